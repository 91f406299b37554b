package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path"
	"path/filepath"
	"runtime"
	"runtime/pprof"
	"strings"
	"syscall"

	"github.com/lasergo/edsim"
	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"
)

var githash = "githash not computed"
var gitdate = "git date not computed"
var buildDate = "build date not computed"

// makeFileExist checks that dir/filename exists, and creates the directory
// and file if it doesn't.
func makeFileExist(dir, filename string) (string, error) {
	// Create directory <path>, if needed
	if _, err := os.Stat(dir); err != nil {
		if !os.IsNotExist(err) {
			return "", err
		}
		if err2 := os.MkdirAll(dir, 0775); err2 != nil {
			return "", err2
		}
	}

	// Create an empty file path/filename, if it doesn't exist.
	fullname := path.Join(dir, filename)
	_, err := os.Stat(fullname)
	if os.IsNotExist(err) {
		f, err2 := os.OpenFile(fullname, os.O_WRONLY|os.O_CREATE, 0664)
		if err2 != nil {
			return "", err2
		}
		f.Close()
	}
	return fullname, nil
}

// setupViper sets up the viper configuration manager: says where to find config
// files and the filename and suffix. Sets the defaults of every key.
func setupViper(dotEdsim string) error {
	edsim.SetDefaults(viper.GetViper())
	viper.SetEnvPrefix("EDSIM")
	viper.AutomaticEnv()

	const filename string = "config"
	const suffix string = ".yaml"
	if _, err := makeFileExist(dotEdsim, filename+suffix); err != nil {
		return err
	}

	viper.SetConfigName(filename)
	viper.AddConfigPath(filepath.FromSlash("/etc/edsim"))
	viper.AddConfigPath(dotEdsim)
	viper.AddConfigPath(".")
	if err := viper.ReadInConfig(); err != nil {
		return fmt.Errorf("error reading config file: %w", err)
	}
	return nil
}

func startLogger(pfname string) *log.Logger {
	logger := log.New(os.Stderr, "", log.LstdFlags)
	logger.SetOutput(&lumberjack.Logger{
		Filename:   pfname,
		MaxSize:    10,   // megabytes after which new file is created
		MaxBackups: 4,    // number of backups
		MaxAge:     180,  // days
		Compress:   true, // whether to gzip the backups
	})
	return logger
}

func main() {
	buildDate = strings.ReplaceAll(buildDate, ".", " ") // workaround for Make problems
	edsim.Build.Date = buildDate
	edsim.Build.Githash = githash
	edsim.Build.Gitdate = gitdate
	edsim.Build.Summary = fmt.Sprintf("edsim version %s (git commit %s of %s)", edsim.Build.Version, githash, gitdate)
	if host, err := os.Hostname(); err == nil {
		edsim.Build.Host = host
	} else {
		edsim.Build.Host = "host not detected"
	}

	printVersion := flag.Bool("version", false, "print version and quit")
	cpuprofile := flag.String("cpuprofile", "", "write CPU profile to given file")
	logToTerminal := flag.Bool("stderr", false, "log to the terminal instead of ~/.edsim/logs")
	flag.Parse()

	if *printVersion {
		fmt.Printf("This is edsim version %s\n", edsim.Build.Version)
		fmt.Printf("Git commit hash: %s\n", githash)
		fmt.Printf("Build time: %s\n", buildDate)
		fmt.Printf("Built on go version %s\n", runtime.Version())
		os.Exit(0)
	}

	banner := fmt.Sprintf("\nThis is edsim version %s (git commit %s)\n", edsim.Build.Version, githash)
	fmt.Print(banner)

	if *cpuprofile != "" {
		f, err := os.Create(*cpuprofile)
		if err != nil {
			log.Fatal(err)
		}
		pprof.StartCPUProfile(f)
		defer pprof.StopCPUProfile()
	}

	HOME, err := os.UserHomeDir()
	if err != nil {
		log.Fatal(err)
	}
	dotEdsim := filepath.Join(HOME, ".edsim")

	// Start logging problems and updates to 2 log files.
	if !*logToTerminal {
		logdir := filepath.Join(dotEdsim, "logs")
		problemname, err := makeFileExist(logdir, "problems.log")
		if err != nil {
			log.Fatal(err)
		}
		logname, err := makeFileExist(logdir, "updates.log")
		if err != nil {
			log.Fatal(err)
		}
		edsim.ProblemLogger = startLogger(problemname)
		edsim.UpdateLogger = startLogger(logname)
		fmt.Printf("Logging problems to %s\n", problemname)
		fmt.Printf("Logging updates  to %s\n\n", logname)
	}
	edsim.UpdateLogger.Printf("\n\n\n\n%s", banner)

	// Find config file, creating it if needed, and read it.
	if err := setupViper(dotEdsim); err != nil {
		log.Fatal(err)
	}
	cfg, err := edsim.LoadConfig(viper.GetViper())
	if err != nil {
		log.Fatal(err)
	}

	sim, err := edsim.NewSimulator(cfg)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("Simulated DAC listening on %v\n", sim.ControlAddr())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := sim.Run(ctx); err != nil {
		edsim.ProblemLogger.Printf("Simulator stopped: %v", err)
		fmt.Fprintf(os.Stderr, "edsim: %v\n", err)
		pprof.StopCPUProfile()
		os.Exit(1)
	}
	edsim.UpdateLogger.Print("Simulator stopped")
}
