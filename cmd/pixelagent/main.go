package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"

	"PixelBoard/internal/agent"
	"PixelBoard/internal/catalog"
	"PixelBoard/internal/config"
	"PixelBoard/internal/llm"
	"PixelBoard/internal/llm/openai"
	"PixelBoard/internal/llm/pythonbridge"
	"PixelBoard/internal/storage/mysql"
	"PixelBoard/internal/web3"
	"PixelBoard/internal/web3/ethereum"
	"PixelBoard/pkg/logger"
	"PixelBoard/pkg/x402"
	"PixelBoard/sdk/go/gridclient"
)

// main 启动自主投放广告的决策智能体。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("pixelagent 运行失败: %v", err)
	}
}

func run(ctx context.Context) error {
	_ = godotenv.Load()

	cfg, err := config.Resolve()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(cfg.Runtime.DataDir, 0o755); err != nil {
		return err
	}
	if err := logger.Init(cfg.Logging); err != nil {
		return fmt.Errorf("初始化日志失败: %w", err)
	}
	defer logger.Sync()
	log := logger.Named("pixelagent")

	llmClient, err := buildLLM(cfg.LLM)
	if err != nil {
		return err
	}

	var journal mysql.DecisionRepository
	switch strings.ToLower(cfg.Storage.Decisions.Driver) {
	case "", "memory":
		journal, err = mysql.NewMemoryDecisionRepository(cfg.Runtime.DataDir)
	case "mysql":
		journal, err = mysql.NewSQLDecisionRepository(ctx, mysql.Config{
			DSN:             cfg.Storage.Decisions.DSN,
			MaxOpenConns:    cfg.Storage.Decisions.MaxOpenConns,
			MaxIdleConns:    cfg.Storage.Decisions.MaxIdleConns,
			ConnMaxLifetime: time.Duration(cfg.Storage.Decisions.ConnMaxLifetimeSeconds) * time.Second,
		})
	default:
		err = fmt.Errorf("未知的决策日志驱动: %s", cfg.Storage.Decisions.Driver)
	}
	if err != nil {
		return err
	}
	defer func() {
		if err := journal.Close(); err != nil {
			log.Warn("关闭决策日志失败", "error", err)
		}
	}()

	brands, err := catalog.Load(cfg.Catalog.Path)
	if err != nil {
		return err
	}

	clientOpts := []gridclient.Option{
		gridclient.WithMaxPayment(cfg.Agent.MaxPaymentAtomic),
		gridclient.WithNetwork(cfg.Agent.Network),
	}
	agentOpts := []agent.Option{
		agent.WithInterval(cfg.Agent.Interval()),
		agent.WithMaxSteps(cfg.Agent.MaxSteps),
		agent.WithLLMTimeout(cfg.Agent.LLMTimeout()),
		agent.WithTemperature(cfg.Agent.Temperature),
		agent.WithOwner(cfg.Agent.Owner),
		agent.WithCatalog(brands),
		agent.WithJournal(journal),
	}

	if cfg.Agent.PrivateKey == "" {
		log.Warn("未配置钱包私钥，付费请求将失败", "env", cfg.Agent.PrivateKeyEnv)
	} else {
		wallet, err := web3.WalletFromHex(cfg.Agent.PrivateKey)
		if err != nil {
			return err
		}
		clientOpts = append(clientOpts, gridclient.WithPayer(web3.NewPayer(wallet)))

		reader, token, err := connectChain(ctx, cfg)
		switch {
		case err != nil:
			log.Warn("连接链上节点失败，跳过余额查询", "error", err)
		case reader != nil:
			defer reader.Close()
			agentOpts = append(agentOpts, agent.WithWallet(reader, wallet.Address(), token))
		}
		log.Info("钱包已加载", "address", wallet.Address().Hex(), "network", cfg.Agent.Network)
	}

	market, err := gridclient.NewClient(cfg.Agent.APIURL, clientOpts...)
	if err != nil {
		return err
	}

	bot := agent.New(llmClient, market, agentOpts...)
	log.Info("决策智能体启动",
		"api_url", cfg.Agent.APIURL,
		"llm", cfg.LLM.Provider,
		"interval", cfg.Agent.Interval().String(),
		"journal", cfg.Storage.Decisions.Driver)
	return bot.Run(ctx)
}

func buildLLM(cfg config.LLMConfig) (llm.Client, error) {
	switch strings.ToLower(cfg.Provider) {
	case "python_bridge":
		script := pythonbridge.ResolveScriptPath(cfg.Python.WorkingDir, cfg.Python.ScriptPath)
		return pythonbridge.NewClient(cfg.Python.PythonExecutable, script, cfg.Python.WorkingDir)
	case "", "openai":
		return openai.NewClient(openai.Config{
			APIKey:  cfg.OpenAI.APIKey,
			BaseURL: cfg.OpenAI.BaseURL,
			Model:   cfg.OpenAI.Model,
			Timeout: cfg.OpenAI.Timeout(),
		})
	default:
		return nil, fmt.Errorf("未知的大模型提供方: %s", cfg.Provider)
	}
}

// connectChain 根据配置连接 RPC 节点，未配置 RPC 时返回 nil。
func connectChain(ctx context.Context, cfg *config.Config) (*ethereum.Client, common.Address, error) {
	defs, err := web3.LoadChainDefinitions(cfg.Chains.Path)
	if err != nil {
		return nil, common.Address{}, err
	}
	def, _ := defs.Lookup(cfg.Agent.Network)

	rpcURL := cfg.Agent.RPCURL
	if rpcURL == "" {
		rpcURL = def.RPCURL
	}
	if rpcURL == "" {
		return nil, common.Address{}, nil
	}

	token := def.USDC
	if token == "" {
		network, err := x402.LookupNetwork(cfg.Agent.Network)
		if err != nil {
			return nil, common.Address{}, err
		}
		token = network.USDC
	}
	if !common.IsHexAddress(token) {
		return nil, common.Address{}, fmt.Errorf("无效的 USDC 合约地址: %s", token)
	}

	client, err := ethereum.NewClient(ctx, ethereum.Config{Name: cfg.Agent.Network, RPCURL: rpcURL})
	if err != nil {
		return nil, common.Address{}, err
	}
	return client, common.HexToAddress(token), nil
}
