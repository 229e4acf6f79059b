package cache

// RedisConfig selects the redis server that holds shared filter criteria.
type RedisConfig struct {
	// host:port address.
	Host     string `json:"host" yaml:"host" mapstructure:"host"`
	Password string `json:"password" yaml:"password" mapstructure:"password"`
	Db       int    `json:"db" yaml:"db" mapstructure:"db"`
	// Maximum number of socket connections.
	PoolSize int `json:"pool_size" yaml:"pool_size" mapstructure:"pool_size"`
	// Maximum number of retries before giving up; -1 disables retries.
	MaxRetries int `json:"max_retries" yaml:"max_retries" mapstructure:"max_retries"`
	// Timeouts in seconds.
	DialTimeout  int64 `json:"dial_timeout" yaml:"dial_timeout" mapstructure:"dial_timeout"`
	ReadTimeout  int64 `json:"read_timeout" yaml:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout int64 `json:"write_timeout" yaml:"write_timeout" mapstructure:"write_timeout"`
	// Key prefix for every stored value.
	Prefix string `json:"prefix" yaml:"prefix" mapstructure:"prefix"`
}

func (rc *RedisConfig) DefaultConfig() {
	if rc.Host == "" {
		rc.Host = "127.0.0.1:6379"
	}
	if rc.PoolSize == 0 {
		rc.PoolSize = 10
	}
	if rc.MaxRetries == 0 {
		rc.MaxRetries = 3
	}
	if rc.DialTimeout == 0 {
		rc.DialTimeout = 5
	}
	if rc.ReadTimeout == 0 {
		rc.ReadTimeout = 3
	}
	if rc.WriteTimeout == 0 {
		rc.WriteTimeout = 3
	}
	if rc.Prefix == "" {
		rc.Prefix = "tasksync"
	}
}
