package config_test

import (
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/tunnel-relay/config"
)

var relayEnv = []string{"LISTEN_PORT", "PORT", "SERVER_PORT", "BACKEND_PORT", "LOGGING_LEVEL"}

func clearRelayEnv() {
	for _, key := range relayEnv {
		os.Unsetenv(key)
	}
}

var _ = Describe("Config", func() {
	var (
		tempDir string
		origDir string
	)

	BeforeEach(func() {
		var err error
		origDir, err = os.Getwd()
		Expect(err).NotTo(HaveOccurred())

		tempDir, err = os.MkdirTemp("", "config-test-*")
		Expect(err).NotTo(HaveOccurred())

		Expect(os.Chdir(tempDir)).To(Succeed())
		clearRelayEnv()
	})

	AfterEach(func() {
		Expect(os.Chdir(origDir)).To(Succeed())
		os.RemoveAll(tempDir)
		clearRelayEnv()
	})

	writeConfig := func(dir, content string) string {
		path := filepath.Join(dir, "config.yaml")
		Expect(os.WriteFile(path, []byte(content), 0644)).To(Succeed())
		return path
	}

	Describe("Load", func() {
		Context("without a config file", func() {
			It("should use defaults", func() {
				cfg, err := config.Load("")
				Expect(err).NotTo(HaveOccurred())
				Expect(cfg.Server.Address()).To(Equal("0.0.0.0:8080"))
				Expect(cfg.Backend.Address()).To(Equal("127.0.0.1:8081"))
				Expect(cfg.Backend.KeepAlive).To(BeFalse())
				Expect(cfg.Server.FullDuplex).To(BeTrue())
				Expect(cfg.Logging.Level).To(Equal(config.LogLevelInfo))
			})

			It("should take the listen port from LISTEN_PORT", func() {
				os.Setenv("LISTEN_PORT", "9191")
				cfg, err := config.Load("")
				Expect(err).NotTo(HaveOccurred())
				Expect(cfg.Server.Port).To(Equal(9191))
			})

			It("should fall back to PORT", func() {
				os.Setenv("PORT", "10000")
				cfg, err := config.Load("")
				Expect(err).NotTo(HaveOccurred())
				Expect(cfg.Server.Port).To(Equal(10000))
			})

			It("should prefer LISTEN_PORT over PORT", func() {
				os.Setenv("LISTEN_PORT", "9191")
				os.Setenv("PORT", "10000")
				cfg, err := config.Load("")
				Expect(err).NotTo(HaveOccurred())
				Expect(cfg.Server.Port).To(Equal(9191))
			})

			It("should map nested keys to environment variables", func() {
				os.Setenv("BACKEND_PORT", "3001")
				os.Setenv("LOGGING_LEVEL", "debug")
				cfg, err := config.Load("")
				Expect(err).NotTo(HaveOccurred())
				Expect(cfg.Backend.Port).To(Equal(3001))
				Expect(cfg.Logging.Level).To(Equal(config.LogLevelDebug))
			})
		})

		Context("with a config file in the working directory", func() {
			BeforeEach(func() {
				writeConfig(tempDir, `
server:
  port: 9000
  environment: "prod"

backend:
  host: "localhost"
  port: 3000
  connect_timeout: "1s"
  keep_alive: true

admin:
  address: "127.0.0.1:9090"

logging:
  level: "warn"
`)
			})

			It("should load configuration successfully", func() {
				cfg, err := config.Load("")
				Expect(err).NotTo(HaveOccurred())
				Expect(cfg.Server.Port).To(Equal(9000))
				Expect(cfg.Server.Environment).To(Equal(config.EnvProd))
				Expect(cfg.Backend.Address()).To(Equal("localhost:3000"))
				Expect(cfg.Backend.ConnectTimeout).To(Equal("1s"))
				Expect(cfg.Backend.KeepAlive).To(BeTrue())
				Expect(cfg.Admin.Address).To(Equal("127.0.0.1:9090"))
			})

			It("should keep defaults for keys the file omits", func() {
				cfg, err := config.Load("")
				Expect(err).NotTo(HaveOccurred())
				Expect(cfg.Server.Host).To(Equal("0.0.0.0"))
				Expect(cfg.Backend.ResponseHeaderTimeout).To(Equal("30s"))
				Expect(cfg.HealthCheck.Interval).To(Equal("10s"))
			})

			It("should let the environment override the file", func() {
				os.Setenv("LISTEN_PORT", "9500")
				cfg, err := config.Load("")
				Expect(err).NotTo(HaveOccurred())
				Expect(cfg.Server.Port).To(Equal(9500))
			})
		})

		Context("with an explicit config file", func() {
			It("should load it", func() {
				sub := filepath.Join(tempDir, "elsewhere")
				Expect(os.Mkdir(sub, 0755)).To(Succeed())
				path := writeConfig(sub, "backend:\n  port: 4000\n")

				cfg, err := config.Load(path)
				Expect(err).NotTo(HaveOccurred())
				Expect(cfg.Backend.Port).To(Equal(4000))
			})

			It("should fail when the file does not exist", func() {
				cfg, err := config.Load(filepath.Join(tempDir, "missing.yaml"))
				Expect(err).To(HaveOccurred())
				Expect(cfg).To(BeNil())
			})
		})

		Context("with invalid values", func() {
			It("should reject a remote backend host", func() {
				writeConfig(tempDir, "backend:\n  host: \"10.1.2.3\"\n")
				cfg, err := config.Load("")
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("loopback"))
				Expect(cfg).To(BeNil())
			})

			It("should reject an unknown environment", func() {
				writeConfig(tempDir, "server:\n  environment: \"qa\"\n")
				_, err := config.Load("")
				Expect(err).To(HaveOccurred())
			})

			It("should reject a malformed duration", func() {
				writeConfig(tempDir, "backend:\n  connect_timeout: \"soon\"\n")
				_, err := config.Load("")
				Expect(err).To(HaveOccurred())
			})
		})
	})

	Describe("Validate", func() {
		var cfg config.Config

		BeforeEach(func() {
			cfg = config.Defaults()
		})

		It("should accept the defaults", func() {
			Expect(cfg.Validate()).To(Succeed())
		})

		It("should accept an ephemeral listen port", func() {
			cfg.Server.Port = 0
			Expect(cfg.Validate()).To(Succeed())
		})

		DescribeTable("backend hosts",
			func(host string, valid bool) {
				cfg.Backend.Host = host
				if valid {
					Expect(cfg.Validate()).To(Succeed())
				} else {
					Expect(cfg.Validate()).NotTo(Succeed())
				}
			},
			Entry("IPv4 loopback", "127.0.0.1", true),
			Entry("other 127/8 address", "127.0.0.2", true),
			Entry("IPv6 loopback", "::1", true),
			Entry("localhost", "localhost", true),
			Entry("LOCALHOST", "LOCALHOST", true),
			Entry("private address", "192.168.1.10", false),
			Entry("public hostname", "example.com", false),
			Entry("empty", "", false),
		)

		It("should reject a backend port of zero", func() {
			cfg.Backend.Port = 0
			Expect(cfg.Validate()).NotTo(Succeed())
		})

		It("should reject an out of range listen port", func() {
			cfg.Server.Port = 70000
			Expect(cfg.Validate()).NotTo(Succeed())
		})

		It("should reject a negative duration", func() {
			cfg.Backend.ResponseHeaderTimeout = "-1s"
			Expect(cfg.Validate()).NotTo(Succeed())
		})

		It("should reject an invalid admin address", func() {
			cfg.Admin.Address = "not-an-address"
			Expect(cfg.Validate()).NotTo(Succeed())
		})

		It("should reject a probe path without a leading slash", func() {
			cfg.HealthCheck.Path = "health"
			Expect(cfg.Validate()).NotTo(Succeed())
		})

		It("should reject an unknown log level", func() {
			cfg.Logging.Level = "verbose"
			Expect(cfg.Validate()).NotTo(Succeed())
		})

		It("should reject a zero metrics buffer", func() {
			cfg.Metrics.BufferSize = 0
			Expect(cfg.Validate()).NotTo(Succeed())
		})
	})
})
