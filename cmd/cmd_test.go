package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/spf13/cobra"

	"github.com/user/hostsweep/pkg/config"
	"github.com/user/hostsweep/pkg/engine"
	"github.com/user/hostsweep/pkg/report"
)

func TestParseHours(t *testing.T) {
	tests := []struct {
		in      string
		want    config.BusinessHours
		wantErr bool
	}{
		{in: "8-18", want: config.BusinessHours{Open: 8, Close: 18}},
		{in: " 9 - 17 ", want: config.BusinessHours{Open: 9, Close: 17}},
		{in: "9", wantErr: true},
		{in: "a-17", wantErr: true},
		{in: "9-b", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseHours(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestPickModel(t *testing.T) {
	models := []string{"gemini-1.5-flash", "gemini-1.5-pro"}
	if got := pickModel("2", models, "x"); got != "gemini-1.5-pro" {
		t.Errorf("pickModel(2) = %s", got)
	}
	for _, answer := range []string{"", "0", "3", "pro"} {
		if got := pickModel(answer, models, "x"); got != "x" {
			t.Errorf("pickModel(%q) = %s, want current", answer, got)
		}
	}
}

func TestRunSetup(t *testing.T) {
	c := &cobra.Command{}
	c.SetIn(strings.NewReader("vt1, vt2,,\n\n9-17\n/data/snap\n"))
	c.SetOut(&bytes.Buffer{})

	cfg := config.Default()
	if err := runSetup(c, cfg); err != nil {
		t.Fatalf("runSetup: %v", err)
	}

	if diff := cmp.Diff([]string{"vt1", "vt2"}, cfg.Providers[config.ProviderVirusTotal].APIKeys); diff != "" {
		t.Errorf("virustotal keys mismatch (-want +got):\n%s", diff)
	}
	if len(cfg.Providers[config.ProviderGemini].APIKeys) != 0 {
		t.Errorf("unexpected gemini keys: %v", cfg.Providers[config.ProviderGemini].APIKeys)
	}
	if cfg.BusinessHours != (config.BusinessHours{Open: 9, Close: 17}) || cfg.InputDir != "/data/snap" {
		t.Errorf("unexpected config: %+v", cfg)
	}
	if cfg.SelectedModel != config.DefaultModel {
		t.Errorf("model changed without gemini keys: %s", cfg.SelectedModel)
	}
}

func TestRunSetupRejectsBadHours(t *testing.T) {
	c := &cobra.Command{}
	c.SetIn(strings.NewReader("\n\n18-8\n\n"))
	c.SetOut(&bytes.Buffer{})

	if err := runSetup(c, config.Default()); err == nil {
		t.Error("expected error for inverted business hours")
	}
}

func TestAnalyzeCommand(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("VT_API_KEY", "")
	t.Setenv("GOOGLE_API_KEY", "")

	snapDir := filepath.Join(t.TempDir(), "WS-042")
	if err := os.MkdirAll(snapDir, 0755); err != nil {
		t.Fatal(err)
	}
	dns := "Name,Data\r\ntotally-legit-bank-login-verify-secure-account-update.tk,203.0.113.5\r\nwww.microsoft.com,1.2.3.4\r\n"
	if err := os.WriteFile(filepath.Join(snapDir, "DNS_Cache.csv"), []byte(dns), 0644); err != nil {
		t.Fatal(err)
	}
	jsonPath := filepath.Join(t.TempDir(), "run.json")

	var out, errOut bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	rootCmd.SetArgs([]string{"analyze", snapDir, "--json", jsonPath, "--log-format", "json"})
	defer rootCmd.SetArgs(nil)

	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("analyze: %v\n%s", err, errOut.String())
	}

	for _, want := range []string{"Host WS-042", "dns (1)", "Suspicious TLD"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("output missing %q:\n%s", want, out.String())
		}
	}

	res, err := report.ReadJSON(jsonPath)
	if err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	if len(res.Findings[engine.CategoryDNS]) != 1 {
		t.Errorf("dns findings in report = %d", len(res.Findings[engine.CategoryDNS]))
	}
	if _, ok := res.Unavailable[engine.CategoryProcess]; !ok {
		t.Error("process category should be unavailable without its table")
	}
}
