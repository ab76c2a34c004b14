package config

import "testing"

func TestValidate(t *testing.T) {
	valid := func() *Config {
		c := &Config{}
		c.Server.Address = ":8080"
		c.Storage.Driver = "memory"
		return c
	}

	t.Run("memory driver", func(t *testing.T) {
		if err := valid().Validate(); err != nil {
			t.Errorf("Validate() = %v", err)
		}
	})

	t.Run("unknown driver", func(t *testing.T) {
		c := valid()
		c.Storage.Driver = "etcd"
		if err := c.Validate(); err == nil {
			t.Error("unknown driver accepted")
		}
	})

	t.Run("redis requires addr", func(t *testing.T) {
		c := valid()
		c.Storage.Driver = "redis"
		c.Storage.RedisAddr = ""
		if err := c.Validate(); err == nil {
			t.Error("redis driver accepted without address")
		}
		c.Storage.RedisAddr = "localhost:6379"
		if err := c.Validate(); err != nil {
			t.Errorf("Validate() = %v", err)
		}
	})

	t.Run("postgres requires dsn", func(t *testing.T) {
		c := valid()
		c.Storage.Driver = "postgres"
		if err := c.Validate(); err == nil {
			t.Error("postgres driver accepted without DSN")
		}
	})

	t.Run("empty address", func(t *testing.T) {
		c := valid()
		c.Server.Address = ""
		if err := c.Validate(); err == nil {
			t.Error("empty server address accepted")
		}
	})
}
