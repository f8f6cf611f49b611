// Command slclient is an example SeedLink client. It connects to a
// server, configures either uni- or multi-station mode, and prints
// details of the packets received. Stream state can be saved and
// recovered across runs from a text file or an SQLite database.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"seedlink/client"
	"seedlink/config"
	"seedlink/logging"
	"seedlink/statefile"
	"seedlink/streams"
)

const version = client.LibraryVersion

func main() {
	var (
		verbosity   = flag.Int("v", 0, "verbosity level")
		ppackets    = flag.Bool("p", false, "print details of received packets")
		netto       = flag.Int("nt", 600, "network idle timeout (seconds)")
		netdly      = flag.Int("nd", 30, "network reconnect delay (seconds)")
		keepalive   = flag.Int("k", 0, "keepalive interval (seconds), 0 disables")
		streamFile  = flag.String("l", "", "stream list file for multi-station mode")
		selectors   = flag.String("s", "", "selectors for uni-station or default for multi-station")
		multiselect = flag.String("S", "", "streams for multi-station: ID1[:sel1],ID2[:sel2],...")
		statePath   = flag.String("x", "", "save/restore stream state to this file")
		stateDB     = flag.String("xdb", "", "save/restore stream state to this SQLite database")
		configPath  = flag.String("config", "", "YAML configuration file")
		useTLS      = flag.Bool("tls", false, "wrap the connection in TLS")
		dialup      = flag.Bool("d", false, "dial-up mode: FETCH and disconnect at end of window")
		jsonLog     = flag.Bool("json-log", false, "emit structured JSON logs")
	)
	flag.Usage = usage
	flag.Parse()

	cl := client.New("slclient", version)
	cl.NetTimeout = time.Duration(*netto) * time.Second
	cl.NetDelay = time.Duration(*netdly) * time.Second
	cl.Keepalive = time.Duration(*keepalive) * time.Second
	cl.TLS = *useTLS
	cl.Dialup = *dialup

	logger := logging.New(*verbosity)
	if *jsonLog {
		zl, err := zap.NewProduction()
		if err != nil {
			log.Fatalf("cannot create logger: %v", err)
		}
		defer zl.Sync()
		logger.LogPrint, logger.DiagPrint = logging.ZapSinks(zl)
	}
	cl.Log = logger

	if *configPath != "" {
		cfg, err := config.Load(*configPath)
		if err != nil {
			log.Fatalf("%v", err)
		}
		if cfg.Logging.Verbosity > logger.Verbosity {
			logger.Verbosity = cfg.Logging.Verbosity
		}
		if err := cfg.Apply(cl); err != nil {
			log.Fatalf("cannot apply configuration: %v", err)
		}
		if *statePath == "" {
			*statePath = cfg.State.File
		}
		if *stateDB == "" {
			*stateDB = cfg.State.SQLite
		}
	}

	if flag.NArg() > 0 {
		cl.Addr = flag.Arg(0)
	}
	if cl.Addr == "" {
		fmt.Fprintf(os.Stderr, "slclient version %s\n\nNo SeedLink server specified\n\n", version)
		fmt.Fprintf(os.Stderr, "Usage: slclient [options] [host][:port]\n")
		os.Exit(1)
	}

	// Stream selection: file, inline list, or uni-station mode.
	switch {
	case *streamFile != "":
		if _, err := cl.ReadStreamList(*streamFile, *selectors); err != nil {
			log.Fatalf("%v", err)
		}
	case *multiselect != "":
		if _, err := cl.ParseStreamList(*multiselect, *selectors); err != nil {
			log.Fatalf("%v", err)
		}
	case cl.Streams.Len() == 0:
		if err := cl.SetAllStation(*selectors, streams.UnsetSequence, ""); err != nil {
			log.Fatalf("%v", err)
		}
	}

	// Recover stream state.
	var store *statefile.SQLiteStore
	if *stateDB != "" {
		var err error
		store, err = statefile.OpenSQLiteStore(*stateDB)
		if err != nil {
			log.Fatalf("%v", err)
		}
		defer store.Close()
		if err := store.Recover(cl.Streams); err != nil {
			log.Printf("state recovery failed: %v", err)
		}
	} else if *statePath != "" {
		if err := statefile.RecoverFile(*statePath, cl.Streams); err != nil {
			log.Printf("state recovery failed: %v", err)
		}
	}

	// A signal requests a graceful drain; the collect loop then returns
	// TERMINATE on its own.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigs
		cl.Terminate()
	}()

	buf := make([]byte, 512*1024)

collect:
	for {
		status, info := cl.Collect(buf)
		switch status {
		case client.StatusPacket:
			handlePacket(cl, info, buf[:info.PayloadCollected], *ppackets)
		case client.StatusTooLarge:
			logger.Logf(2, 0, "payload length %d too large for %d byte buffer, enlarging",
				info.PayloadLength, len(buf))
			grown := make([]byte, info.PayloadLength)
			copy(grown, buf[:info.PayloadCollected])
			buf = grown
		case client.StatusNoPacket:
			time.Sleep(500 * time.Millisecond)
		case client.StatusTerminate:
			break collect
		}
	}

	// Save state for the next run.
	if store != nil {
		if err := store.Save(cl.Streams); err != nil {
			log.Printf("state save failed: %v", err)
		}
	} else if *statePath != "" {
		if err := statefile.SaveFile(*statePath, cl.Streams); err != nil {
			log.Printf("state save failed: %v", err)
		}
	}
}

func handlePacket(cl *client.Client, info *client.PacketInfo, payload []byte, details bool) {
	cl.Log.Logf(0, 1, "%s, seq %d, received %d bytes of %s", info.NetStaID,
		info.SeqNum, len(payload), client.FormatString(info.PayloadFormat, info.PayloadSubformat))

	if !details {
		return
	}

	switch info.PayloadFormat {
	case client.PayloadJSON:
		if parsed, err := client.ParseInfo(payload); err == nil {
			fmt.Printf("server: %s (%s), %d station(s)\n",
				parsed.Software, parsed.Organization, len(parsed.Station))
		}
	default:
		fmt.Printf("%s seq %d: %d bytes, format %s\n", info.NetStaID, info.SeqNum,
			len(payload), client.FormatString(info.PayloadFormat, info.PayloadSubformat))
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, `
Usage: slclient [options] [host][:port]

 ## General program options ##
 -v level       verbosity level
 -p             print details of data packets
 -nt timeout    network timeout (seconds), re-establish connection if no
                  data/keepalives are received in this time, default 600
 -nd delay      network re-connect delay (seconds), default 30
 -k interval    send keepalive (heartbeat) packets this often (seconds)
 -d             dial-up mode, fetch the current window and quit
 -x statefile   save/restore stream state information to this file
 -xdb dbfile    save/restore stream state to this SQLite database
 -tls           wrap the connection in TLS (conventional port 18500)
 -config file   load a YAML configuration file
 -json-log      emit structured JSON logs

 ## Data stream selection ##
 -l listfile    read a stream list from this file for multi-station mode
 -s selectors   selectors for uni-station or default for multi-station
 -S streams     select streams for multi-station
   'streams' = 'stream1[:selectors1],stream2[:selectors2],...'
        'stream' is in NET_STA format, for example:
        -S "IU_KONO:BHE BHN,GE_WLF,MN_AQU:HH?"

 [host][:port]  Address of the SeedLink server in host:port format
                  if host is omitted (i.e. ':18000'), localhost is assumed
                  if :port is omitted (i.e. 'localhost'), 18000 is assumed
`)
}
