// Logic related to expvar handling: reporting live stats such as
// session, user, conversation and message counts plus the journal
// queue depth. The stats updates happen in a separate go routine to
// avoid locking on main logic routines.

package main

import (
	"expvar"
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/parley-im/parley/server/logs"
)

type varUpdate struct {
	// Name of the variable to update
	varname string
	// Increment (or decrement) to apply
	count int64
}

// Initialize stats reporting through expvar.
func statsInit(mux *http.ServeMux, path string) {
	if path == "" || path == "-" {
		return
	}

	mux.Handle(path, expvar.Handler())
	globals.statsUpdate = make(chan *varUpdate, 1024)

	start := time.Now()
	expvar.Publish("Uptime", expvar.Func(func() interface{} {
		return time.Since(start).Seconds()
	}))
	expvar.Publish("NumGoroutines", expvar.Func(func() interface{} {
		return runtime.NumGoroutine()
	}))
	expvar.Publish("Version", expvar.Func(func() interface{} {
		// Numeric so downstream metric collectors can use it as-is.
		v, _ := strconv.ParseFloat(VERSION, 64)
		return v
	}))
	expvar.Publish("JournalQueueDepth", expvar.Func(func() interface{} {
		if globals.journal == nil {
			return 0
		}
		return globals.journal.Pending()
	}))

	go statsUpdater()

	logs.Info.Printf("stats: variables exposed at '%s'", path)
}

// Register integer variable. Don't check for initialization.
func statsRegisterInt(name string) {
	expvar.Publish(name, new(expvar.Int))
}

// Async publish an increment (decrement) to int variable.
func statsInc(name string, val int) {
	if globals.statsUpdate != nil {
		select {
		case globals.statsUpdate <- &varUpdate{name, int64(val)}:
		default:
		}
	}
}

// Stop publishing stats.
func statsShutdown() {
	if globals.statsUpdate != nil {
		globals.statsUpdate <- nil
	}
}

// The go routine which actually publishes stats updates.
func statsUpdater() {
	for upd := range globals.statsUpdate {
		if upd == nil {
			globals.statsUpdate = nil
			// Dont' care to close the channel.
			break
		}

		// Handle var update
		if ev := expvar.Get(upd.varname); ev != nil {
			// Intentional panic if the ev is not *expvar.Int.
			ev.(*expvar.Int).Add(upd.count)
		} else {
			panic("stats: update to unknown variable " + upd.varname)
		}
	}

	logs.Info.Println("stats: shutdown")
}
