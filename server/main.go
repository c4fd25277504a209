/******************************************************************************
 *
 *  Description :
 *
 *    Setup & initialization: configuration, identifier generator, store,
 *    journal replay, listeners and shutdown.
 *
 *****************************************************************************/

package main

import (
	"encoding/base64"
	"encoding/json"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	jcr "github.com/tinode/jsonco"

	"github.com/parley-im/parley/server/logs"
	"github.com/parley-im/parley/server/store"
	"github.com/parley-im/parley/server/store/types"
	"github.com/parley-im/parley/server/txlog"
)

const (
	// Version of the server and the wire API.
	VERSION = "0.1"

	// Journal flush interval used when the config does not set one.
	defaultFlushInterval = 5 * time.Second

	// Silent TCP sessions are dropped after this long unless the config
	// sets its own limit.
	defaultIdleSessionTimeout = 15 * time.Minute
)

var globals struct {
	journal     *txlog.Log
	statsUpdate chan *varUpdate
}

type journalConfig struct {
	// Path to the journal file.
	File string `json:"file"`
	// Milliseconds between queue flushes.
	FlushIntervalMs int `json:"flush_interval_ms"`
}

type configType struct {
	// Address:port to listen on for the binary wire protocol.
	Listen string `json:"listen"`
	// Address:port of the HTTP endpoint: websocket transport and expvar.
	ListenHTTP string `json:"listen_http"`
	// Seconds a TCP session may stay silent before it is dropped,
	// negative to disable.
	IdleSessionTimeoutSec int `json:"idle_session_timeout_sec"`
	// URL path where expvar variables are exposed, "-" to disable.
	StatsPath string `json:"stats_path"`
	// Comma separated list of log flags, see logs.Init.
	LogFlags string `json:"log_flags"`
	// Base64-encoded 16 byte key for XTEA obfuscation of identifiers.
	UidKey string `json:"uid_key"`
	// Identifier generator worker id, unique per server instance.
	WorkerID uint `json:"worker_id"`

	Journal journalConfig `json:"journal"`
}

func main() {
	configfile := flag.String("config", "./parley.conf", "Path to config file.")
	listenOn := flag.String("listen", "", "Override address and port to listen on for the wire protocol.")
	listenHTTP := flag.String("listen_http", "", "Override address and port of the HTTP endpoint.")
	logFlags := flag.String("log_flags", "", "Override log flags, see logs.Init.")
	flag.Parse()

	config := configType{
		Listen:    ":16060",
		StatsPath: "/debug/vars",
		LogFlags:  "timestamp",
		Journal:   journalConfig{File: "./transactions.log", FlushIntervalMs: int(defaultFlushInterval / time.Millisecond)},
	}

	file, err := os.Open(*configfile)
	if err != nil {
		logs.Err.Fatalln("main: failed to read config file:", err)
	}
	jr := jcr.New(file)
	if err = json.NewDecoder(jr).Decode(&config); err != nil {
		switch jerr := err.(type) {
		case *json.UnmarshalTypeError:
			lnum, cnum, _ := jr.LineAndChar(jerr.Offset)
			logs.Err.Fatalf("main: unmarshall error in config file in %s at %d:%d (offset %d bytes): %s",
				jerr.Field, lnum, cnum, jerr.Offset, jerr.Error())
		case *json.SyntaxError:
			lnum, cnum, _ := jr.LineAndChar(jerr.Offset)
			logs.Err.Fatalf("main: syntax error in config file at %d:%d (offset %d bytes): %s",
				lnum, cnum, jerr.Offset, jerr.Error())
		default:
			logs.Err.Fatalln("main: failed to parse config file:", err)
		}
	}
	file.Close()

	if *listenOn != "" {
		config.Listen = *listenOn
	}
	if *listenHTTP != "" {
		config.ListenHTTP = *listenHTTP
	}
	if *logFlags != "" {
		config.LogFlags = *logFlags
	}

	logs.Init(os.Stderr, config.LogFlags)
	logs.Info.Printf("main: server v%s pid=%d starting", VERSION, os.Getpid())

	var uidKey []byte
	if config.UidKey != "" {
		if uidKey, err = base64.StdEncoding.DecodeString(config.UidKey); err != nil {
			logs.Err.Fatalln("main: failed to decode uid_key:", err)
		}
	} else {
		// Fixed development key. Set uid_key in production.
		logs.Warn.Println("main: config missing uid_key, using default")
		uidKey = []byte{0x85, 0xc1, 0x2e, 0xf7, 0x3a, 0x59, 0x1b, 0x60, 0x43, 0x96, 0xd4, 0x28, 0x7f, 0x05, 0xee, 0xb2}
	}

	var gen types.UidGenerator
	if err = gen.Init(config.WorkerID, uidKey); err != nil {
		logs.Err.Fatalln("main: failed to init identifier generator:", err)
	}

	st := store.New(&gen)

	globals.journal = txlog.Open(config.Journal.File)
	replayInterests(config.Journal.File, st)
	flushEvery := time.Duration(config.Journal.FlushIntervalMs) * time.Millisecond
	if flushEvery <= 0 {
		flushEvery = defaultFlushInterval
	}
	go globals.journal.Run(flushEvery)

	ctrl := NewController(st, globals.journal)
	view := NewView(st)
	disp := &Dispatcher{ctrl: ctrl, view: view}

	mux := http.NewServeMux()
	statsInit(mux, config.StatsPath)
	statsRegisterInt("LiveSessions")
	statsRegisterInt("TotalSessions")
	statsRegisterInt("Users")
	statsRegisterInt("Conversations")
	statsRegisterInt("Messages")

	lis, err := net.Listen("tcp", config.Listen)
	if err != nil {
		logs.Err.Fatalln("main: failed to listen:", err)
	}
	idleWait := time.Duration(config.IdleSessionTimeoutSec) * time.Second
	if config.IdleSessionTimeoutSec == 0 {
		idleWait = defaultIdleSessionTimeout
	}
	logs.Info.Println("main: wire protocol on", config.Listen)
	go listenAndServe(lis, disp, idleWait)

	var httpSrv *http.Server
	if config.ListenHTTP != "" {
		mux.HandleFunc("/v0/channels", func(wrt http.ResponseWriter, req *http.Request) {
			serveWebSocket(wrt, req, disp)
		})
		httpSrv = &http.Server{Addr: config.ListenHTTP, Handler: mux}
		go func() {
			if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logs.Err.Fatalln("main: http server failed:", err)
			}
		}()
		logs.Info.Println("main: websocket and expvar on", config.ListenHTTP)
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigs
	logs.Info.Println("main: shutting down on", sig)

	lis.Close()
	if httpSrv != nil {
		httpSrv.Close()
	}
	globals.journal.Stop()
	statsShutdown()

	users, conversations, messages := st.Counts()
	logs.Info.Printf("main: stopped with %d users, %d conversations, %d messages",
		users, conversations, messages)
}

// replayInterests rebuilds the interest tracker from the journal.
// Only the follow/unfollow records are reapplied; user, conversation
// and message records are parsed but otherwise ignored, so an interest
// record whose subject no longer resolves is skipped with a
// diagnostic. Records are applied to the store directly to avoid
// journaling the replay itself.
func replayInterests(path string, st *store.Store) {
	applied, skipped := 0, 0
	err := txlog.Replay(path, func(rec txlog.Record) error {
		var ok bool
		switch rec.Kind {
		case txlog.KindAddInterestUser:
			_, ok = st.AddUserInterest(rec.Id, rec.Subject)
		case txlog.KindRemoveInterestUser:
			_, ok = st.RemoveUserInterest(rec.Id, rec.Subject)
		case txlog.KindAddInterestConversation:
			_, ok = st.AddConversationInterest(rec.Id, rec.Subject)
		case txlog.KindRemoveInterestConversation:
			_, ok = st.RemoveConversationInterest(rec.Id, rec.Subject)
		default:
			return nil
		}
		if ok {
			applied++
		} else {
			skipped++
		}
		return nil
	})
	if err != nil {
		logs.Err.Println("main: journal replay aborted:", err)
		return
	}
	if applied > 0 || skipped > 0 {
		logs.Info.Printf("main: journal replay done, %d interest records applied, %d skipped", applied, skipped)
	}
}
