package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"time"

	"github.com/lasergo/edsim"
	"github.com/lasergo/edsim/edclient"
	"github.com/lasergo/edsim/nurbs"
	"github.com/lasergo/edsim/packets"
)

const perWrite = 600

type dac struct {
	bc   packets.Broadcast
	addr string
}

// discover listens for broadcasts for the given time and returns every DAC
// heard, in the order first heard.
func discover(listen string, wait time.Duration) ([]dac, error) {
	l, err := edclient.Listen(listen)
	if err != nil {
		return nil, err
	}
	defer l.Close()
	ctx, cancel := context.WithTimeout(context.Background(), wait)
	defer cancel()

	var found []dac
	seen := make(map[uint32]bool)
	for {
		bc, from, err := l.Next(ctx)
		if errors.Is(err, context.DeadlineExceeded) {
			return found, nil
		} else if err != nil {
			return found, err
		}
		if seen[bc.DeviceID()] {
			continue
		}
		seen[bc.DeviceID()] = true
		addr := fmt.Sprintf("%s:%d", from.IP, edsim.Ports.Control)
		found = append(found, dac{bc: bc, addr: addr})
	}
}

func main() {
	listen := flag.String("listen", fmt.Sprintf(":%d", edsim.Ports.Broadcast), "where to listen for DAC broadcasts")
	addr := flag.String("addr", "", "DAC command address; skips discovery")
	nubfile := flag.String("shape", "", ".nub file with the shape to trace (default: a circle)")
	format := flag.String("format", "compact", "point record format: compact or extended")
	pps := flag.Int("pps", 30000, "points per second")
	seconds := flag.Float64("seconds", 5, "seconds for one trip around the square")
	hz := flag.Float64("hz", 50, "times per second the shape is traced")
	scale := flag.Float64("scale", 5000, "DAC units per pattern unit")
	writes := flag.Int("writes", 0, "stop after this many writes (0 means run until interrupted)")
	flag.Parse()

	pf, err := packets.ParseFormat(*format)
	if err != nil {
		log.Fatal(err)
	}
	shape := nurbs.Circle()
	if *nubfile != "" {
		if shape, err = nurbs.Load(*nubfile); err != nil {
			log.Fatal(err)
		}
	}
	pattern := nurbs.MovingCircles(shape)

	capacity := 1800
	if *addr == "" {
		// Wait a bit over a second, to hear from every DAC broadcasting.
		dacs, err := discover(*listen, 1200*time.Millisecond)
		if err != nil {
			log.Fatal(err)
		}
		if len(dacs) == 0 {
			fmt.Println("No DACs found.")
			return
		}
		for i, d := range dacs {
			fmt.Printf("%d: Ether Dream %06x\n", i, d.bc.DeviceID())
		}
		*addr = dacs[0].addr
		capacity = int(dacs[0].bc.BufferCapacity)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	fmt.Printf("Connecting to %s...\n", *addr)
	conn, err := edclient.Dial(ctx, *addr, pf)
	if err != nil {
		log.Fatal(err)
	}
	defer conn.Close()
	if _, err := conn.Prepare(); err != nil {
		log.Fatal(err)
	}

	total := int(float64(*pps) * *seconds)
	repeat := *seconds * *hz
	started := false
	for p, n := 0, 0; *writes == 0 || n < *writes; n++ {
		pts := pattern.Points(p, perWrite, total, repeat, *scale)
		p = (p + perWrite) % total
		st, err := conn.Write(pts)
		if err != nil {
			fmt.Printf("write: %v\n", err)
		}
		if !started {
			if _, err := conn.Begin(0, uint32(*pps)); err != nil {
				log.Fatal(err)
			}
			started = true
		}

		// Wait until the next write fits in the buffer.
		excess := int(st.BufferFullness) + perWrite - (capacity - 1)
		if excess > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Duration(excess) * time.Second / time.Duration(*pps)):
			}
		}
		if ctx.Err() != nil {
			return
		}
	}
	fmt.Println("done")
}
