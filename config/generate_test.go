package config_test

import (
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/tunnel-relay/config"
)

var _ = Describe("WriteDefault", func() {
	var dir string

	BeforeEach(func() {
		dir = GinkgoT().TempDir()
		clearRelayEnv()
	})

	AfterEach(func() {
		clearRelayEnv()
	})

	It("writes a file that loads back to the defaults", func() {
		path := filepath.Join(dir, "nested", "config.yaml")
		Expect(config.WriteDefault(path, false)).To(Succeed())

		cfg, err := config.Load(path)
		Expect(err).NotTo(HaveOccurred())
		Expect(*cfg).To(Equal(config.Defaults()))
	})

	It("uses the keys Load reads", func() {
		data, err := config.Render(config.Defaults())
		Expect(err).NotTo(HaveOccurred())
		Expect(string(data)).To(ContainSubstring("backend:"))
		Expect(string(data)).To(ContainSubstring("connect_timeout: 5s"))
		Expect(string(data)).To(ContainSubstring("health_check:"))
	})

	It("refuses to overwrite without force", func() {
		path := filepath.Join(dir, "config.yaml")
		Expect(os.WriteFile(path, []byte("custom: true\n"), 0o644)).To(Succeed())

		err := config.WriteDefault(path, false)
		Expect(err).To(MatchError(config.ErrConfigExists))

		data, err := os.ReadFile(path)
		Expect(err).NotTo(HaveOccurred())
		Expect(string(data)).To(Equal("custom: true\n"))
	})

	It("overwrites with force", func() {
		path := filepath.Join(dir, "config.yaml")
		Expect(os.WriteFile(path, []byte("custom: true\n"), 0o644)).To(Succeed())

		Expect(config.WriteDefault(path, true)).To(Succeed())

		data, err := os.ReadFile(path)
		Expect(err).NotTo(HaveOccurred())
		Expect(string(data)).To(ContainSubstring("server:"))
	})
})
