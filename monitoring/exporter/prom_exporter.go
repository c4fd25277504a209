package main

import (
	"log"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PromExporter re-publishes a server's expvar statistics as
// prometheus metrics.
type PromExporter struct {
	address   string
	timeout   time.Duration
	namespace string

	scraper *Scraper

	up            *prometheus.Desc
	version       *prometheus.Desc
	sessionsLive  *prometheus.Desc
	sessionsTotal *prometheus.Desc
	users         *prometheus.Desc
	conversations *prometheus.Desc
	messages      *prometheus.Desc
	journalDepth  *prometheus.Desc
	malloced      *prometheus.Desc
}

// NewPromExporter returns an initialized Prometheus exporter.
func NewPromExporter(server, namespace string, timeout time.Duration, scraper *Scraper) *PromExporter {
	return &PromExporter{
		address:   server,
		timeout:   timeout,
		namespace: namespace,
		scraper:   scraper,
		up: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "up"),
			"If the server instance is reachable.",
			nil,
			nil,
		),
		version: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "version"),
			"The version of this server instance.",
			nil,
			nil,
		),
		sessionsLive: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "sessions_live_count"),
			"Number of currently active sessions.",
			nil,
			nil,
		),
		sessionsTotal: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "sessions_total"),
			"Total number of sessions since instance start.",
			nil,
			nil,
		),
		users: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "users_total"),
			"Total number of registered users.",
			nil,
			nil,
		),
		conversations: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "conversations_total"),
			"Total number of conversations.",
			nil,
			nil,
		),
		messages: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "messages_total"),
			"Total number of messages posted since instance start.",
			nil,
			nil,
		),
		journalDepth: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "journal_queue_depth"),
			"Number of journal records waiting to be flushed.",
			nil,
			nil,
		),
		malloced: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "malloced_bytes"),
			"Number of bytes of memory allocated and in use.",
			nil,
			nil,
		),
	}
}

// Describe describes all the metrics exported by this exporter. It
// implements prometheus.Collector.
func (e *PromExporter) Describe(ch chan<- *prometheus.Desc) {
	ch <- e.up
	ch <- e.version
	ch <- e.sessionsLive
	ch <- e.sessionsTotal
	ch <- e.users
	ch <- e.conversations
	ch <- e.messages
	ch <- e.journalDepth
	ch <- e.malloced
}

// Collect fetches statistics from the configured server instance and
// delivers them as Prometheus metrics. It implements
// prometheus.Collector.
func (e *PromExporter) Collect(ch chan<- prometheus.Metric) {
	up := float64(1)
	if stats, err := e.scraper.Scrape(); err != nil {
		log.Println("Failed to fetch or parse response", err)
		up = 0
	} else if err := e.parseStats(ch, stats); err != nil {
		up = 0
	}

	ch <- prometheus.MustNewConstMetric(e.up, prometheus.GaugeValue, up)
}

func (e *PromExporter) parseStats(ch chan<- prometheus.Metric, stats map[string]interface{}) error {
	return firstError(
		e.parseAndUpdate(ch, e.version, prometheus.GaugeValue, stats, "Version"),
		e.parseAndUpdate(ch, e.sessionsLive, prometheus.GaugeValue, stats, "LiveSessions"),
		e.parseAndUpdate(ch, e.sessionsTotal, prometheus.CounterValue, stats, "TotalSessions"),
		e.parseAndUpdate(ch, e.users, prometheus.GaugeValue, stats, "Users"),
		e.parseAndUpdate(ch, e.conversations, prometheus.GaugeValue, stats, "Conversations"),
		e.parseAndUpdate(ch, e.messages, prometheus.CounterValue, stats, "Messages"),
		e.parseAndUpdate(ch, e.journalDepth, prometheus.GaugeValue, stats, "JournalQueueDepth"),
		e.parseAndUpdate(ch, e.malloced, prometheus.GaugeValue, stats, "memstats.Alloc"),
	)
}

func (e *PromExporter) parseAndUpdate(ch chan<- prometheus.Metric, desc *prometheus.Desc, valueType prometheus.ValueType,
	stats map[string]interface{}, key string) error {
	v, err := parseMetric(stats, key)
	if err != nil {
		return err
	}
	ch <- prometheus.MustNewConstMetric(desc, valueType, v)
	return nil
}

func firstError(errs ...error) error {
	for _, v := range errs {
		if v != nil {
			return v
		}
	}
	return nil
}
