// Standalone metrics exporter: scrapes a running server's expvar
// endpoint and re-publishes the values either in prometheus format or
// as InfluxDB line-protocol pushes.

package main

import (
	"flag"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/common/version"
)

type MonitoringService int

const (
	Prometheus MonitoringService = 1
	InfluxDB   MonitoringService = 2
)

type promHTTPLogger struct{}

func (l promHTTPLogger) Println(v ...interface{}) {
	log.Println(v...)
}

func main() {
	log.Printf("Parley metrics exporter.")

	var (
		serveFor = flag.String("serve_for", "prometheus",
			"Monitoring service to gather metrics for. Available: prometheus, influxdb.")
		serverAddr = flag.String("server_addr", "http://localhost:8080/debug/vars",
			"Address of the server instance to scrape.")
		listenAt = flag.String("listen_at", ":6222",
			"Host name and port to listen for incoming requests on.")
		instance = flag.String("instance", "exporter",
			"Exporter instance name, used to tag InfluxDB measurements.")
		metricList = flag.String("metric_list",
			"Version,LiveSessions,TotalSessions,Users,Conversations,Messages,JournalQueueDepth,memstats.Alloc",
			"Comma-separated list of metrics to scrape and export.")

		// Prometheus-specific arguments.
		promNamespace = flag.String("prom_namespace", "parley",
			"Prometheus namespace for metrics '<namespace>_...'")
		promMetricsPath = flag.String("prom_metrics_path", "/metrics",
			"Path under which to expose metrics for Prometheus scrapes.")
		promTimeout = flag.Int("prom_timeout", 15,
			"Server connection timeout in seconds in response to Prometheus scrapes.")

		// InfluxDB-specific arguments.
		influxDBVersion = flag.String("influx_db_version", "2.0",
			"Version of InfluxDB: 1.7 or 2.0.")
		influxPushAddr = flag.String("influx_push_addr", "http://localhost:9999/api/v2/write",
			"Address of the InfluxDB target server where the data gets sent.")
		influxOrganization = flag.String("influx_organization", "test",
			"InfluxDB organization to push metrics as.")
		influxBucket = flag.String("influx_bucket", "test",
			"InfluxDB storage bucket to store data in (2.0 only).")
		influxAuthToken = flag.String("influx_auth_token", "",
			"InfluxDB authentication token.")
		influxPushInterval = flag.Int("influx_push_interval", 30,
			"InfluxDB push interval in seconds.")
	)
	flag.Parse()

	var service MonitoringService
	switch *serveFor {
	case "prometheus":
		service = Prometheus
	case "influxdb":
		service = InfluxDB
	default:
		log.Fatal("Invalid monitoring service: " + *serveFor + "; must be either \"prometheus\" or \"influxdb\"")
	}
	switch service {
	case Prometheus:
		if *promMetricsPath == "/" {
			log.Fatal("Serving metrics from / is not supported")
		}
	case InfluxDB:
		if *influxDBVersion != "1.7" && *influxDBVersion != "2.0" {
			log.Fatal("Unsupported InfluxDB version", *influxDBVersion)
		}
		if *influxOrganization == "" {
			log.Fatal("Must specify --influx_organization")
		}
		if *influxAuthToken == "" {
			log.Fatal("Must specify --influx_auth_token")
		}
	}

	// Index page at web root.
	http.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		var servingPath string
		switch service {
		case Prometheus:
			servingPath = "<p>Prometheus exporter path: <a href='" + *promMetricsPath + "'>Metrics</a></p>"
		case InfluxDB:
			servingPath = "<p>InfluxDB push path: <a href='/push'>Push</a></p>"
		}

		w.Write([]byte(`<html><head><title>Parley Exporter</title></head><body>
<h1>Parley Exporter</h1>
<p>Serving for ` + *serveFor + `</p>` + servingPath + `
<h2>Build</h2>
<pre>` + version.Info() + ` ` + version.BuildContext() + `</pre>
</body></html>`))
	})

	scraper := Scraper{address: *serverAddr, metrics: strings.Split(*metricList, ",")}
	switch service {
	case Prometheus:
		exporter := NewPromExporter(*serverAddr, *promNamespace, time.Duration(*promTimeout)*time.Second, &scraper)
		registry := prometheus.NewRegistry()
		registry.MustRegister(exporter)
		http.Handle(*promMetricsPath,
			promhttp.InstrumentMetricHandler(
				registry,
				promhttp.HandlerFor(
					registry,
					promhttp.HandlerOpts{
						ErrorLog: &promHTTPLogger{},
						Timeout:  time.Duration(*promTimeout) * time.Second,
					},
				),
			),
		)
	case InfluxDB:
		exporter := NewInfluxDBExporter(*influxDBVersion, *influxPushAddr,
			*influxOrganization, *influxBucket, *influxAuthToken, *instance, &scraper)
		if *influxPushInterval > 0 {
			go func() {
				for range time.Tick(time.Duration(*influxPushInterval) * time.Second) {
					if err := exporter.Push(); err != nil {
						log.Println("Push failed:", err)
					}
				}
			}()
		} else {
			log.Println("InfluxDB push interval is zero. Will not push data automatically.")
		}
		// Forces a data push.
		http.HandleFunc("/push", func(w http.ResponseWriter, r *http.Request) {
			msg := "ok"
			if err := exporter.Push(); err != nil {
				msg = "fail - " + err.Error()
			}

			w.Write([]byte(`<html><head><title>Parley Push</title></head><body>
<h1>Parley Push</h1>
<pre>` + msg + `</pre>
</body></html>`))
		})
	}

	log.Println("Reading server expvar from", *serverAddr)
	log.Printf("Serving metrics at %s. Serving for %s", *listenAt, *serveFor)
	log.Fatalln(http.ListenAndServe(*listenAt, nil))
}
