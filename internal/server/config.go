package server

import "time"

type HttpConfig struct {
	Host string `conf:"host"`
	Port int    `conf:"port"`
	H2c  bool   `conf:"h2c"`
}

type ProxyMode string

const (
	// ProxyQueue holds requests until a generation is listening.
	ProxyQueue ProxyMode = "queue"

	// ProxyRefresh answers requests with a refresh response while no
	// generation is listening.
	ProxyRefresh ProxyMode = "refresh"
)

type ProxyConfig struct {
	// Mode selects how requests are handled while no generation is
	// listening. Default is "queue".
	Mode ProxyMode `conf:"mode"`

	// QueueTimeout bounds how long a request is held in queue mode
	// before it is answered with a refresh response.
	QueueTimeout time.Duration `conf:"queue_timeout"`
}
