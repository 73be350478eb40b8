package main

import (
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/omaskery/tracemap/pkg/symbols"
)

var _ = Describe("parseArgs", func() {
	It("has usable defaults", func() {
		cfg, err := parseArgs(nil)
		Expect(err).To(Succeed())
		Expect(cfg.Input).To(Equal("-"))
		Expect(cfg.Output).To(Equal("-"))
		Expect(cfg.Tef).To(BeEmpty())
		Expect(cfg.TefFormat).To(Equal(tefFormatArray))
		Expect(cfg.CacheSize).To(Equal(uint(symbols.DefaultCacheSize)))
		Expect(cfg.Diagnostics).To(BeTrue())
	})

	It("reads flags", func() {
		cfg, err := parseArgs([]string{"-input", "trace.json.zst", "-tef", "out.json", "-short-names", "-v", "1"})
		Expect(err).To(Succeed())
		Expect(cfg.Input).To(Equal("trace.json.zst"))
		Expect(cfg.Tef).To(Equal("out.json"))
		Expect(cfg.ShortNames).To(BeTrue())
		Expect(cfg.Verbosity).To(Equal(1))
	})

	It("reads a config file", func() {
		dir, err := os.MkdirTemp("", "tracemap")
		Expect(err).To(Succeed())
		defer os.RemoveAll(dir)

		path := filepath.Join(dir, "tracemap.conf")
		Expect(os.WriteFile(path, []byte("output result.json\ndemangle-cache-size 16\n"), 0o600)).To(Succeed())

		cfg, err := parseArgs([]string{"-config", path})
		Expect(err).To(Succeed())
		Expect(cfg.Output).To(Equal("result.json"))
		Expect(cfg.CacheSize).To(Equal(uint(16)))
	})

	It("rejects unknown trace event formats", func() {
		_, err := parseArgs([]string{"-tef-format", "protobuf"})
		Expect(err).To(MatchError(ContainSubstring("protobuf")))
	})
})
