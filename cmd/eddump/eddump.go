package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	"github.com/lasergo/edsim/edclient"
)

func probe(ctx context.Context, npack int, endpoint string) error {
	fmt.Printf("Listening on %s for the first %d DAC broadcasts...\n", endpoint, npack)
	l, err := edclient.Listen(endpoint)
	if err != nil {
		return err
	}
	defer l.Close()

	for n := 0; n < npack; n++ {
		bc, from, err := l.Next(ctx)
		if err != nil {
			return err
		}
		st := bc.Status
		fmt.Printf("%s %v from %v: point_rate=%d point_count=%d\n",
			time.Now().Format("15:04:05.000"), bc, from, st.PointRate, st.PointCount)
	}
	return nil
}

func main() {
	var npack int
	var port int
	var timeout time.Duration
	const defaultPort = 7654
	host := ""
	flag.IntVar(&npack, "n", 10, "Number of broadcasts to dump")
	flag.IntVar(&port, "port", defaultPort, "Port to monitor")
	flag.IntVar(&port, "p", defaultPort, "Port to monitor (shorthand)")
	flag.DurationVar(&timeout, "timeout", 0, "Give up after this long (0 means wait forever)")

	flag.Usage = func() {
		fmt.Printf("eddump, for dumping the first N Ether Dream broadcasts, by default those arriving on port %d\n",
			defaultPort)
		fmt.Println("Usage: eddump [flags] [host][:port]")
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() > 0 {
		host = flag.Arg(0)

		// If host ends in :portnum, split that off and update the port value
		if pieces := strings.Split(host, ":"); len(pieces) > 1 {
			if len(pieces) > 2 {
				fmt.Printf("Cannot parse host '%s' with %d colon separators\n", host, len(pieces)-1)
				os.Exit(2)
			}
			attachedport, err := strconv.Atoi(pieces[1])
			if err != nil {
				fmt.Printf("Cannot convert port '%s' to integer\n", pieces[1])
				os.Exit(2)
			}
			if port != defaultPort && port != attachedport {
				fmt.Printf("Cannot use -p argument and a conflicting host:port pair\n")
				os.Exit(2)
			}
			host = pieces[0]
			port = attachedport
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	endpoint := fmt.Sprintf("%s:%d", host, port)
	if err := probe(ctx, npack, endpoint); err != nil {
		fmt.Printf("error: %v\n", err)
		os.Exit(1)
	}
}
