package stomp

import (
	"context"
	"log"
	"net/http"

	"github.com/golang-io/requests"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Stat struct {
	ActiveConnections  prometheus.Gauge
	ConnectionAttempts prometheus.Counter
	Reconnects         prometheus.Counter
	FrameSent          prometheus.Counter
	FrameReceived      prometheus.Counter
	ByteSent           prometheus.Counter
	ByteReceived       prometheus.Counter
	HeartBeatSent      prometheus.Counter
	HeartBeatReceived  prometheus.Counter
}

var stat = Stat{
	ActiveConnections:  prometheus.NewGauge(prometheus.GaugeOpts{Name: "stomp_active_connections", Help: "The number of open STOMP connections"}),
	ConnectionAttempts: prometheus.NewCounter(prometheus.CounterOpts{Name: "stomp_connection_attempts", Help: "The total number of connection attempts"}),
	Reconnects:         prometheus.NewCounter(prometheus.CounterOpts{Name: "stomp_reconnects", Help: "The total number of successful reconnects"}),
	FrameSent:          prometheus.NewCounter(prometheus.CounterOpts{Name: "stomp_sent_frames", Help: "The total number of sent STOMP frames"}),
	FrameReceived:      prometheus.NewCounter(prometheus.CounterOpts{Name: "stomp_received_frames", Help: "The total number of received STOMP frames"}),
	ByteSent:           prometheus.NewCounter(prometheus.CounterOpts{Name: "stomp_sent_bytes", Help: "The total number of sent STOMP bytes"}),
	ByteReceived:       prometheus.NewCounter(prometheus.CounterOpts{Name: "stomp_received_bytes", Help: "The total number of received STOMP bytes"}),
	HeartBeatSent:      prometheus.NewCounter(prometheus.CounterOpts{Name: "stomp_sent_heartbeats", Help: "The total number of sent heartbeat keep-alives"}),
	HeartBeatReceived:  prometheus.NewCounter(prometheus.CounterOpts{Name: "stomp_received_heartbeats", Help: "The total number of received heartbeat keep-alives"}),
}

func (s *Stat) Register() {
	prometheus.MustRegister(s.ActiveConnections)
	prometheus.MustRegister(s.ConnectionAttempts)
	prometheus.MustRegister(s.Reconnects)
	prometheus.MustRegister(s.FrameSent)
	prometheus.MustRegister(s.FrameReceived)
	prometheus.MustRegister(s.ByteSent)
	prometheus.MustRegister(s.ByteReceived)
	prometheus.MustRegister(s.HeartBeatSent)
	prometheus.MustRegister(s.HeartBeatReceived)
}

// Httpd serves the prometheus metrics and pprof endpoints on url. Blocks.
func Httpd(url string) error {
	stat.Register()
	mux := requests.NewServeMux(requests.URL(url))
	mux.Route("/metrics", promhttp.Handler())
	mux.Pprof()
	s := requests.NewServer(context.Background(), mux, requests.OnStart(func(s *http.Server) {
		log.Printf("http serve: %s", s.Addr)
	}))
	return s.ListenAndServe()
}
