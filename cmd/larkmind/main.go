package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"github.com/stellarlinkco/larkmind/internal/config"
	"github.com/stellarlinkco/larkmind/internal/gateway"
	"github.com/stellarlinkco/larkmind/internal/memory"
)

var rootCmd = &cobra.Command{
	Use:   "larkmind",
	Short: "larkmind - Feishu bot with FastGPT replies and long-term user memory",
}

var gatewayCmd = &cobra.Command{
	Use:   "gateway",
	Short: "Start the full gateway (channels + memory pipeline + cron)",
	RunE:  runGateway,
}

var onboardCmd = &cobra.Command{
	Use:   "onboard",
	Short: "Initialize config and data directories",
	RunE:  runOnboard,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show larkmind status",
	RunE:  runStatus,
}

var memoryCmd = &cobra.Command{
	Use:   "memory",
	Short: "Inspect or erase stored user memory",
}

var memoryStatsCmd = &cobra.Command{
	Use:   "stats <user-id>",
	Short: "Show stored profile and memory counts for a user",
	Args:  cobra.ExactArgs(1),
	RunE:  runMemoryStats,
}

var memoryEraseCmd = &cobra.Command{
	Use:   "erase <user-id>",
	Short: "Delete the stored profile and all memories for a user",
	Args:  cobra.ExactArgs(1),
	RunE:  runMemoryErase,
}

func init() {
	memoryCmd.AddCommand(memoryStatsCmd, memoryEraseCmd)
	rootCmd.AddCommand(gatewayCmd, onboardCmd, statusCmd, memoryCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runGateway(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if cfg.FastGPT.BaseURL == "" || cfg.FastGPT.AppKey == "" {
		return fmt.Errorf("FastGPT not configured. Run 'larkmind onboard' and set fastgpt.baseUrl and fastgpt.appKey")
	}

	gw, err := gateway.New(cfg)
	if err != nil {
		return fmt.Errorf("create gateway: %w", err)
	}

	return gw.Run(context.Background())
}

func runOnboard(cmd *cobra.Command, args []string) error {
	cfgDir := config.ConfigDir()
	cfgPath := config.ConfigPath()

	if err := os.MkdirAll(filepath.Join(cfgDir, "data"), 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		if err := config.SaveConfig(config.DefaultConfig()); err != nil {
			return fmt.Errorf("write config: %w", err)
		}
		fmt.Printf("Created config: %s\n", cfgPath)
	} else {
		fmt.Printf("Config already exists: %s\n", cfgPath)
	}

	fmt.Println("\nNext steps:")
	fmt.Printf("  1. Edit %s\n", cfgPath)
	fmt.Println("  2. Set channels.feishu appId/appSecret and enable the channel")
	fmt.Println("  3. Set fastgpt.baseUrl and fastgpt.appKey")
	fmt.Println("  4. Set memory.provider.apiKey for the extraction model")
	fmt.Println("  5. Run 'larkmind gateway'")

	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Printf("Config: error (%v)\n", err)
		return nil
	}

	fmt.Printf("Config: %s\n", config.ConfigPath())
	fmt.Printf("Feishu: enabled=%v\n", cfg.Channels.Feishu.Enabled)
	fmt.Printf("FastGPT: %s\n", settingDisplay(cfg.FastGPT.BaseURL))
	fmt.Printf("FastGPT app key: %s\n", maskKey(cfg.FastGPT.AppKey))
	fmt.Printf("Memory: enabled=%v model=%s debounce=%s\n",
		cfg.Memory.Enabled, cfg.Memory.Model, cfg.Memory.DebounceDelay)
	if cfg.Memory.Provider != nil {
		fmt.Printf("Memory API key: %s\n", maskKey(cfg.Memory.Provider.APIKey))
	} else {
		fmt.Println("Memory API key: not set")
	}
	fmt.Printf("Memory expiry: enabled=%v afterDays=%d maxImportance=%d\n",
		cfg.Memory.Expiry.Enabled, cfg.Memory.Expiry.AfterDays, cfg.Memory.Expiry.MaxImportance)

	return nil
}

func runMemoryStats(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	stats, err := store.UserStats(args[0])
	if err != nil {
		return fmt.Errorf("load stats: %w", err)
	}

	fmt.Printf("User: %s\n", stats.UserID)
	fmt.Printf("Profile: %v\n", stats.HasProfile)
	fmt.Printf("Active memories: %d\n", stats.TotalMemories)

	types := make([]string, 0, len(stats.TypeCounts))
	for t := range stats.TypeCounts {
		types = append(types, t)
	}
	sort.Strings(types)
	for _, t := range types {
		fmt.Printf("  %s: %d\n", t, stats.TypeCounts[t])
	}
	return nil
}

func runMemoryErase(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.DeleteUserData(args[0]); err != nil {
		return fmt.Errorf("erase user data: %w", err)
	}
	fmt.Printf("Erased all stored data for %s\n", args[0])
	return nil
}

func openStore() (*memory.Store, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	dbPath := strings.TrimSpace(cfg.Memory.DBPath)
	if dbPath == "" {
		dbPath = filepath.Join(config.ConfigDir(), "data", "memory.db")
	}
	store, err := memory.NewStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open memory store: %w", err)
	}
	return store, nil
}

func settingDisplay(v string) string {
	if strings.TrimSpace(v) == "" {
		return "not set"
	}
	return v
}

func maskKey(key string) string {
	if key == "" {
		return "not set"
	}
	if len(key) > 8 {
		return key[:4] + "..." + key[len(key)-4:]
	}
	return "set"
}
