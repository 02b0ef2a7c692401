package main

import (
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
)

func TestLoadConfigDefaultsAndFlags(test *testing.T) {
	cmd := newRootCommand()
	if err := cmd.Flags().Set(flagRatePairs, "XRP:USD,BTC:EUR"); err != nil {
		test.Fatalf("set flag: %v", err)
	}
	test.Setenv("GRPC_LISTEN_ADDR", ":7100")
	cfg := &runtimeConfig{}
	if err := loadConfig(cmd, viper.New(), cfg); err != nil {
		test.Fatalf("load config: %v", err)
	}
	if cfg.ListenAddr != ":7100" {
		test.Fatalf("expected env listen addr, got %q", cfg.ListenAddr)
	}
	if cfg.DatabaseURL != defaultDatabaseURL || cfg.StoreDriver != storeDriverGorm || cfg.RateRefreshCron != defaultRateRefreshCron {
		test.Fatalf("unexpected defaults %+v", cfg)
	}
	if len(cfg.RatePairs) != 2 || cfg.RatePairs[1].String() != "BTC:EUR" {
		test.Fatalf("unexpected pairs %v", cfg.RatePairs)
	}
}

func TestLoadConfigRejectsInvalidValues(test *testing.T) {
	testCases := []struct {
		name  string
		flag  string
		value string
	}{
		{name: "store driver", flag: flagStoreDriver, value: "bolt"},
		{name: "receipt rate", flag: flagReceiptRate, value: "0"},
		{name: "rate pairs", flag: flagRatePairs, value: "XRP"},
	}
	for _, testCase := range testCases {
		test.Run(testCase.name, func(test *testing.T) {
			cmd := newRootCommand()
			if err := cmd.Flags().Set(testCase.flag, testCase.value); err != nil {
				test.Fatalf("set flag: %v", err)
			}
			if err := loadConfig(cmd, viper.New(), &runtimeConfig{}); err == nil {
				test.Fatalf("expected %s=%s to be rejected", testCase.flag, testCase.value)
			}
		})
	}
}

func TestResolveDriver(test *testing.T) {
	directory := test.TempDir()
	testCases := []struct {
		dsn            string
		expectedDriver string
		expectedPath   string
	}{
		{dsn: "postgres://user@localhost/paywall", expectedDriver: driverPostgres},
		{dsn: "postgresql://user@localhost/paywall", expectedDriver: driverPostgres},
		{dsn: "sqlite://" + filepath.Join(directory, "a", "paywall.db"), expectedDriver: driverSQLite, expectedPath: filepath.Join(directory, "a", "paywall.db")},
		{dsn: ":memory:", expectedDriver: driverSQLite, expectedPath: ":memory:"},
	}
	for _, testCase := range testCases {
		driver, path, err := resolveDriver(testCase.dsn)
		if err != nil {
			test.Fatalf("resolve %q: %v", testCase.dsn, err)
		}
		if driver != testCase.expectedDriver || path != testCase.expectedPath {
			test.Fatalf("resolve %q: got %q %q", testCase.dsn, driver, path)
		}
	}
}
