package setup

import (
	"crypto/rand"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"gopkg.in/yaml.v3"

	"github.com/quantfold/dealer/config"
	"github.com/quantfold/dealer/internal/wallet"
)

var (
	subtle    = lipgloss.AdaptiveColor{Light: "#D9DCCF", Dark: "#383838"}
	highlight = lipgloss.AdaptiveColor{Light: "#874BFD", Dark: "#7D56F4"}
	special   = lipgloss.AdaptiveColor{Light: "#43BF6D", Dark: "#73F59F"}

	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("205")).
			Background(highlight).
			Padding(1, 2).
			Bold(true).
			MarginBottom(1)

	stepStyle = lipgloss.NewStyle().
			Foreground(special).
			Bold(true).
			MarginTop(1).
			MarginBottom(0)
)

// RunTUI launches the terminal configuration wizard. It writes the engine
// config to config.gen.yaml and the encrypted signing key to key.gen.json.
func RunTUI() error {
	var (
		platform     string
		assetsStr    string
		timeframe    string
		macro        string
		strategyText string

		maxPositionStr string
		maxOpenStr     string
		maxTradesStr   string
		leverageStr    string
		aggressive     bool

		oracleBackend string
		oracleURL     string
		oracleKey     string
		oracleModel   string

		hyperliquidURL string
		vaultRPCURL    string
		vaultAddress   string
		privateKeyHex  string
		password       string

		confirm bool
	)

	// defaults
	assetsStr = "BTC, ETH"
	maxPositionStr = "100"
	maxOpenStr = "3"
	maxTradesStr = "2"
	leverageStr = "2"
	oracleURL = "https://api.openai.com/v1/chat/completions"
	oracleModel = "gpt-4o"
	hyperliquidURL = "https://api.hyperliquid.xyz"

	// step 1: market data
	fmt.Print("\033[H\033[2J")
	fmt.Println(headerStyle.Render("DEALER CONFIG WIZARD"))
	fmt.Println(lipgloss.NewStyle().Foreground(subtle).Render("Let's wire up your autonomous dealer.\n"))

	fmt.Println(stepStyle.Render("STEP 1: MARKET DATA"))
	err := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Candle Source").
				Options(
					huh.NewOption("Binance", "binance"),
					huh.NewOption("Bybit", "bybit"),
				).
				Value(&platform),
			huh.NewInput().
				Title("Assets").
				Description("Comma-separated coins, e.g. BTC, ETH, SOL").
				Value(&assetsStr).
				Validate(func(s string) error {
					if len(parseAssets(s)) == 0 {
						return fmt.Errorf("at least one asset is required")
					}
					return nil
				}),
			huh.NewInput().
				Title("Primary Timeframe").
				Description("Exchange-native candle interval (binance: 1h, bybit: 60); empty for hourly").
				Value(&timeframe),
			huh.NewInput().
				Title("Macro Timeframe").
				Description("Secondary interval for trend context, empty to disable").
				Value(&macro),
		),
	).Run()
	if err != nil {
		return err
	}

	// step 2: risk
	fmt.Print("\033[H\033[2J")
	fmt.Println(headerStyle.Render("DEALER CONFIG WIZARD"))
	fmt.Println(stepStyle.Render("STEP 2: RISK LIMITS"))
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Max Position Size (USDC)").
				Value(&maxPositionStr).
				Validate(validatePositiveNumber),
			huh.NewInput().
				Title("Max Open Positions").
				Value(&maxOpenStr).
				Validate(validatePositiveInt),
			huh.NewInput().
				Title("Max Trades Per Cycle").
				Description("Position-closing trades are never capped").
				Value(&maxTradesStr).
				Validate(validatePositiveInt),
			huh.NewInput().
				Title("Default Leverage").
				Value(&leverageStr).
				Validate(validatePositiveInt),
			huh.NewConfirm().
				Title("Aggressive Mode?").
				Description("Lowers the decision confidence threshold from 0.60 to 0.50").
				Value(&aggressive),
			huh.NewText().
				Title("Strategy Notes").
				Description("Free-form guidance passed to the decision oracle (optional)").
				Value(&strategyText),
		),
	).Run()
	if err != nil {
		return err
	}

	// step 3: oracle
	fmt.Print("\033[H\033[2J")
	fmt.Println(headerStyle.Render("DEALER CONFIG WIZARD"))
	fmt.Println(stepStyle.Render("STEP 3: DECISION ORACLE"))
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Oracle Backend").
				Options(
					huh.NewOption("OpenAI-compatible", "openai"),
					huh.NewOption("Anthropic", "anthropic"),
				).
				Value(&oracleBackend),
			huh.NewInput().
				Title("API URL").
				Description("Ignored for the Anthropic backend").
				Value(&oracleURL),
			huh.NewInput().
				Title("API Key").
				Value(&oracleKey).
				EchoMode(huh.EchoModePassword),
			huh.NewInput().
				Title("Model Name").
				Value(&oracleModel),
		),
	).Run()
	if err != nil {
		return err
	}

	// step 4: venues and signing key
	fmt.Print("\033[H\033[2J")
	fmt.Println(headerStyle.Render("DEALER CONFIG WIZARD"))
	fmt.Println(stepStyle.Render("STEP 4: VENUES & KEY"))
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Hyperliquid API URL").
				Value(&hyperliquidURL),
			huh.NewInput().
				Title("Vault RPC URL").
				Description("EVM JSON-RPC endpoint for swap/transfer tasks, empty to disable").
				Value(&vaultRPCURL),
			huh.NewInput().
				Title("Vault Contract Address").
				Value(&vaultAddress),
			huh.NewInput().
				Title("Signing Key (hex)").
				Value(&privateKeyHex).
				EchoMode(huh.EchoModePassword).
				Validate(func(s string) error {
					_, err := ethcrypto.HexToECDSA(strings.TrimPrefix(s, "0x"))
					return err
				}),
			huh.NewInput().
				Title("Key Password").
				Description("Encrypts the signing key at rest").
				Value(&password).
				EchoMode(huh.EchoModePassword).
				Validate(func(s string) error {
					if len(s) < 8 {
						return fmt.Errorf("password must be at least 8 characters")
					}
					return nil
				}),
		),
	).Run()
	if err != nil {
		return err
	}

	// confirmation
	fmt.Print("\033[H\033[2J")
	fmt.Println(headerStyle.Render("DEALER CONFIG WIZARD"))
	fmt.Println(stepStyle.Render("FINAL CONFIRMATION"))

	summary := fmt.Sprintf(
		"Source: %s\nAssets: %s\nTimeframe: %s\nOracle: %s (%s)\nMax position: %s USDC\n",
		platform, assetsStr, timeframe, oracleBackend, oracleModel, maxPositionStr,
	)
	fmt.Println(lipgloss.NewStyle().Border(lipgloss.NormalBorder()).Padding(1).Render(summary))

	err = huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title("Save Configuration?").
				Affirmative("Yes, save and start").
				Negative("No, exit").
				Value(&confirm),
		),
	).Run()
	if err != nil {
		return err
	}
	if !confirm {
		return fmt.Errorf("setup cancelled by user")
	}

	keyFile := "key.gen.json"
	if err := saveEncryptedKey(keyFile, privateKeyHex, password); err != nil {
		return err
	}

	maxOpen, _ := strconv.Atoi(maxOpenStr)
	maxTrades, _ := strconv.Atoi(maxTradesStr)
	leverage, _ := strconv.Atoi(leverageStr)

	cfgTmp := config.ConfigTmp{
		Platform:            platform,
		Assets:              parseAssets(assetsStr),
		Timeframe:           timeframe,
		MacroTimeframe:      macro,
		StrategyText:        strategyText,
		MaxPositionSizeUSDC: maxPositionStr,
		MaxOpenPositions:    maxOpen,
		MaxTradesPerCycle:   maxTrades,
		DefaultLeverage:     leverage,
		Aggressive:          aggressive,
		OracleBackend:       oracleBackend,
		OracleAPIURL:        oracleURL,
		OracleAPIKey:        oracleKey,
		OracleModel:         oracleModel,
		HyperliquidURL:      hyperliquidURL,
		VaultRPCURL:         vaultRPCURL,
		VaultAddress:        vaultAddress,
		KeyFile:             keyFile,
	}

	data, err := yaml.Marshal(cfgTmp)
	if err != nil {
		return fmt.Errorf("failed to generate yaml: %w", err)
	}

	filename := "config.gen.yaml"
	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to save config file: %w", err)
	}

	fmt.Println(lipgloss.NewStyle().Foreground(special).Render(
		fmt.Sprintf("\n✓ Configuration saved to %s, key to %s\nStarting dealer...", filename, keyFile)))
	time.Sleep(1500 * time.Millisecond)
	return nil
}

func saveEncryptedKey(path, privateKeyHex, password string) error {
	key, err := ethcrypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return fmt.Errorf("invalid private key: %w", err)
	}

	salt := make([]byte, 32)
	nonce := make([]byte, 24)
	if _, err := rand.Read(salt); err != nil {
		return err
	}
	if _, err := rand.Read(nonce); err != nil {
		return err
	}

	blob, err := wallet.Encrypt(key, password, salt, nonce)
	if err != nil {
		return fmt.Errorf("failed to encrypt key: %w", err)
	}

	return os.WriteFile(path, blob, 0600)
}

func parseAssets(s string) []string {
	var assets []string
	for _, part := range strings.Split(s, ",") {
		coin := strings.ToUpper(strings.TrimSpace(part))
		if coin != "" {
			assets = append(assets, coin)
		}
	}
	return assets
}

func validatePositiveNumber(s string) error {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v <= 0 {
		return fmt.Errorf("must be a positive number")
	}
	return nil
}

func validatePositiveInt(s string) error {
	v, err := strconv.Atoi(s)
	if err != nil || v <= 0 {
		return fmt.Errorf("must be a positive integer")
	}
	return nil
}
