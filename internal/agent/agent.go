package agent

import (
	"context"
	"encoding/json"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"PixelBoard/internal/catalog"
	xerrors "PixelBoard/internal/errors"
	"PixelBoard/internal/llm"
	"PixelBoard/internal/observability/metrics"
	"PixelBoard/internal/placement"
	"PixelBoard/internal/storage/mysql"
	"PixelBoard/internal/web3"
	"PixelBoard/pkg/logger"
	"PixelBoard/sdk/go/gridclient"
)

const (
	defaultInterval = 60 * time.Second
	defaultMaxSteps = 16
)

// State 描述一轮推理所处的阶段。
type State string

const (
	StateIdle                State = "IDLE"
	StateThinking            State = "THINKING"
	StateAwaitingToolResults State = "AWAITING_TOOL_RESULTS"
	StateRoundComplete       State = "ROUND_COMPLETE"
)

// Round outcomes reported in metrics and logs.
const (
	OutcomeCompleted = "completed"
	OutcomeLLMError  = "llm_error"
	OutcomeMaxSteps  = "max_steps"
	OutcomeCanceled  = "canceled"
)

// Marketplace 是智能体使用的市场 API，gridclient.Client 满足该接口。
type Marketplace interface {
	Stats(ctx context.Context) (gridclient.Stats, error)
	FindSpace(ctx context.Context, width, height int) (gridclient.Space, error)
	GenerateImage(ctx context.Context, req gridclient.ImageRequest) (gridclient.ImageHandle, error)
	PlaceAd(ctx context.Context, req gridclient.AdRequest) (gridclient.AdResult, error)
}

// RoundReport 汇总一轮执行的结果。
type RoundReport struct {
	Outcome    string
	Steps      int
	Actions    int
	Placements []gridclient.Placement
	Reply      string
}

// Agent 周期性地向模型请求决策并执行工具调用。
type Agent struct {
	llmClient llm.Client
	market    Marketplace
	catalog   *catalog.Catalog
	journal   mysql.DecisionRepository
	history   *History

	chain       web3.ChainReader
	walletAddr  common.Address
	walletToken common.Address

	owner       string
	interval    time.Duration
	maxSteps    int
	llmTimeout  time.Duration
	temperature float64
	now         func() time.Time
	log         *slog.Logger

	mu    sync.Mutex
	state State
}

// Option 定义可选的 Agent 配置。
type Option func(*Agent)

// WithInterval 设置两轮之间的间隔。
func WithInterval(d time.Duration) Option {
	return func(a *Agent) {
		if d > 0 {
			a.interval = d
		}
	}
}

// WithMaxSteps 限制每轮的推理步数。
func WithMaxSteps(n int) Option {
	return func(a *Agent) {
		if n > 0 {
			a.maxSteps = n
		}
	}
}

// WithLLMTimeout 设置单次模型调用的超时时间。
func WithLLMTimeout(d time.Duration) Option {
	return func(a *Agent) {
		if d > 0 {
			a.llmTimeout = d
		}
	}
}

// WithTemperature 设置模型采样温度。
func WithTemperature(t float64) Option {
	return func(a *Agent) { a.temperature = t }
}

// WithOwner 设置投放时使用的 owner 标识。
func WithOwner(owner string) Option {
	return func(a *Agent) {
		if strings.TrimSpace(owner) != "" {
			a.owner = owner
		}
	}
}

// WithCatalog 替换可选项目录。
func WithCatalog(c *catalog.Catalog) Option {
	return func(a *Agent) {
		if c != nil {
			a.catalog = c
		}
	}
}

// WithJournal 配置决策日志仓库。
func WithJournal(repo mysql.DecisionRepository) Option {
	return func(a *Agent) { a.journal = repo }
}

// WithWallet 在每轮开始时读取钱包余额并写入指令。
func WithWallet(reader web3.ChainReader, address, token common.Address) Option {
	return func(a *Agent) {
		a.chain = reader
		a.walletAddr = address
		a.walletToken = token
	}
}

// WithClock 替换时间来源。
func WithClock(now func() time.Time) Option {
	return func(a *Agent) {
		if now != nil {
			a.now = now
		}
	}
}

// New 创建一个 Agent。
func New(llmClient llm.Client, market Marketplace, opts ...Option) *Agent {
	a := &Agent{
		llmClient: llmClient,
		market:    market,
		catalog:   catalog.Default(),
		history:   NewHistory(HistoryLimit),
		owner:     "pixel-agent",
		interval:  defaultInterval,
		maxSteps:  defaultMaxSteps,
		now:       time.Now,
		log:       logger.Named("agent"),
		state:     StateIdle,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a
}

// History 返回决策日志。
func (a *Agent) History() *History {
	return a.history
}

// State 返回当前阶段。
func (a *Agent) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

func (a *Agent) setState(s State) {
	a.mu.Lock()
	a.state = s
	a.mu.Unlock()
}

// RestoreHistory 从决策日志中加载最近的记录。
func (a *Agent) RestoreHistory(ctx context.Context) error {
	if a.journal == nil {
		return nil
	}
	records, err := a.journal.ListLatest(ctx, HistoryLimit)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "加载决策日志失败")
	}
	// ListLatest 为倒序，按时间正序写入。
	for i := len(records) - 1; i >= 0; i-- {
		r := records[i]
		a.history.Add(Decision{
			Brand:       r.Brand,
			Style:       r.Style,
			Width:       r.Width,
			Height:      r.Height,
			PlacementID: r.PlacementID,
			CreatedAt:   time.Unix(r.CreatedAt, 0),
		})
	}
	return nil
}

// Run 每隔 interval 执行一轮，直到 ctx 被取消。
func (a *Agent) Run(ctx context.Context) error {
	if a.llmClient == nil || a.market == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "未配置大模型客户端或市场客户端")
	}
	if err := a.RestoreHistory(ctx); err != nil {
		a.log.Warn("恢复历史决策失败", slog.Any("error", err))
	}

	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}

		report, err := a.RunRound(ctx)
		attrs := []any{
			slog.String("outcome", report.Outcome),
			slog.Int("steps", report.Steps),
			slog.Int("actions", report.Actions),
			slog.Int("placements", len(report.Placements)),
		}
		if err != nil {
			a.log.Warn("本轮提前结束", append(attrs, slog.Any("error", err))...)
		} else {
			a.log.Info("本轮完成", attrs...)
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}
		timer.Reset(a.interval)
	}
}

// RunRound 执行一轮完整的推理循环。模型调用失败会提前结束本轮并返回错误，
// 工具失败只作为结果回填给模型。
func (a *Agent) RunRound(ctx context.Context) (RoundReport, error) {
	report := RoundReport{}
	defer func() {
		a.setState(StateRoundComplete)
		metrics.ObserveAgentRound(report.Outcome)
	}()

	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: a.instructions(ctx)},
		{Role: llm.RoleUser, Content: "Start a new round. Decide whether to place an ad now and act through the tools."},
	}
	tools := Tools()

	for report.Steps < a.maxSteps {
		if err := ctx.Err(); err != nil {
			report.Outcome = OutcomeCanceled
			return report, err
		}
		a.setState(StateThinking)
		report.Steps++

		resp, err := a.chat(ctx, llm.Request{Messages: messages, Tools: tools, Temperature: a.temperature})
		if err != nil {
			report.Outcome = OutcomeLLMError
			if ctx.Err() != nil {
				report.Outcome = OutcomeCanceled
			}
			return report, err
		}
		messages = append(messages, resp.Message)
		if resp.Done() {
			report.Outcome = OutcomeCompleted
			report.Reply = resp.Message.Content
			return report, nil
		}

		a.setState(StateAwaitingToolResults)
		for _, call := range resp.Message.ToolCalls {
			content, placed := a.dispatch(ctx, call)
			report.Actions++
			if placed != nil {
				report.Placements = append(report.Placements, *placed)
			}
			messages = append(messages, llm.ToolResult(call.ID, content))
		}
	}
	report.Outcome = OutcomeMaxSteps
	return report, nil
}

func (a *Agent) chat(ctx context.Context, req llm.Request) (*llm.Response, error) {
	callCtx := ctx
	if a.llmTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, a.llmTimeout)
		defer cancel()
	}
	resp, err := a.llmClient.Chat(callCtx, req)
	if err != nil {
		if stdErrors.Is(err, context.DeadlineExceeded) {
			return nil, xerrors.Wrap(xerrors.CodeTimeout, err, "大模型推理超时")
		}
		return nil, xerrors.Wrap(xerrors.CodeUpstreamFailure, err, "大模型推理失败")
	}
	if resp == nil {
		return nil, xerrors.New(xerrors.CodeUpstreamFailure, "大模型返回空响应")
	}
	return resp, nil
}

// dispatch 执行一次工具调用，返回回填给模型的 JSON 内容。place_ad 成功时同时返回投放结果。
func (a *Agent) dispatch(ctx context.Context, call llm.ToolCall) (string, *gridclient.Placement) {
	kind, ok := ParseAction(call.Name)
	if !ok {
		err := xerrors.New(xerrors.CodeInvalidInput, fmt.Sprintf("unknown tool %q", call.Name), xerrors.WithField("name"))
		metrics.ObserveAgentAction(call.Name, "error")
		return errorContent(err), nil
	}

	var (
		result any
		placed *gridclient.Placement
		err    error
	)
	switch kind {
	case ActionGetGridState:
		result, err = a.market.Stats(ctx)
	case ActionListOptions:
		var args listOptionsArgs
		if err = decodeArgs(call.Arguments, &args); err == nil {
			result = a.listOptions(args)
		}
	case ActionGenerateImage:
		var args generateImageArgs
		if err = decodeArgs(call.Arguments, &args); err == nil {
			result, err = a.market.GenerateImage(ctx, gridclient.ImageRequest{Prompt: args.Prompt, Width: args.Width, Height: args.Height})
		}
	case ActionFindEmptySpace:
		var args findSpaceArgs
		if err = decodeArgs(call.Arguments, &args); err == nil {
			result, err = a.findEmptySpace(ctx, args)
		}
	case ActionPlaceAd:
		var args placeAdArgs
		if err = decodeArgs(call.Arguments, &args); err == nil {
			placed, err = a.placeAd(ctx, args)
			result = placed
		}
	}

	if err != nil {
		metrics.ObserveAgentAction(kind.String(), "error")
		a.log.Info("工具调用失败", slog.String("action", kind.String()), slog.Any("error", err))
		return errorContent(err), nil
	}
	metrics.ObserveAgentAction(kind.String(), "ok")
	encoded, err := json.Marshal(result)
	if err != nil {
		return errorContent(xerrors.Wrap(xerrors.CodeUnknown, err, "encode tool result")), placed
	}
	return string(encoded), placed
}

func (a *Agent) listOptions(args listOptionsArgs) catalog.Catalog {
	return catalog.Catalog{
		Brands: a.catalog.Filter(args.Keyword),
		Styles: a.catalog.Styles,
		Sizes:  a.catalog.Sizes,
	}
}

// findEmptySpace 由服务端在实时网格上搜索，避免下载整张快照。
func (a *Agent) findEmptySpace(ctx context.Context, args findSpaceArgs) (placement.SearchResult, error) {
	if err := placement.CheckSize(args.Width, args.Height); err != nil {
		return placement.SearchResult{}, err
	}
	space, err := a.market.FindSpace(ctx, args.Width, args.Height)
	if err != nil {
		return placement.SearchResult{}, err
	}
	return placement.SearchResult{Found: space.Found, X: space.X, Y: space.Y}, nil
}

func (a *Agent) placeAd(ctx context.Context, args placeAdArgs) (*gridclient.Placement, error) {
	if strings.TrimSpace(args.Brand) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidInput, "brand is required", xerrors.WithField("brand"))
	}
	result, err := a.market.PlaceAd(ctx, gridclient.AdRequest{
		X:       args.X,
		Y:       args.Y,
		Width:   args.Width,
		Height:  args.Height,
		ImageID: args.ImageID,
		Link:    args.Link,
		Title:   args.Title,
		Owner:   a.owner,
	})
	if err != nil {
		return nil, err
	}

	decision := Decision{
		Brand:       args.Brand,
		Style:       args.Style,
		Width:       args.Width,
		Height:      args.Height,
		PlacementID: result.ID,
		CreatedAt:   a.now(),
	}
	a.history.Add(decision)

	auditAttrs := []any{
		slog.String("placement_id", result.ID),
		slog.String("brand", args.Brand),
		slog.String("style", args.Style),
		slog.Int("x", result.X),
		slog.Int("y", result.Y),
		slog.Int("width", result.Width),
		slog.Int("height", result.Height),
		slog.String("cost_usd", result.TotalCostUSD),
	}
	if result.Settlement != nil {
		auditAttrs = append(auditAttrs, slog.String("transaction", result.Settlement.Transaction))
	}
	logger.Audit().Info("agent_decision", auditAttrs...)

	if a.journal != nil {
		record := &mysql.DecisionRecord{
			Brand:       args.Brand,
			Style:       args.Style,
			Width:       result.Width,
			Height:      result.Height,
			X:           result.X,
			Y:           result.Y,
			PlacementID: result.ID,
			ImageID:     result.ImageID,
			CostAtomic:  result.TotalCost,
			Summary:     decision.Summary(),
			CreatedAt:   decision.CreatedAt.Unix(),
		}
		if err := a.journal.Save(ctx, record); err != nil {
			// 投放已成交，日志写入失败不影响结果。
			a.log.Warn("写入决策日志失败", slog.String("placement_id", result.ID), slog.Any("error", err))
		}
	}

	placed := result.Placement
	return &placed, nil
}

func (a *Agent) instructions(ctx context.Context) string {
	var b strings.Builder
	b.WriteString("You are an autonomous media buyer for a 1000x1000 pixel billboard. ")
	b.WriteString("Each round, inspect the grid, pick a brand, a visual style and a size from list_options, ")
	b.WriteString("generate a matching image, find empty space of exactly that size and place the ad. ")
	b.WriteString("Tool errors are JSON objects with a code and details such as field and limit; adjust the parameters and retry, ")
	b.WriteString("or stop for this round. Vary brand, style and size compared to recent placements.\n\n")
	b.WriteString("Recent placements (oldest first):\n")
	b.WriteString(a.history.Format())
	if note := a.walletNote(ctx); note != "" {
		b.WriteString("\n\nWallet: ")
		b.WriteString(note)
	}
	return b.String()
}

// walletNote 读取钱包余额，失败时返回观察信息而不是报错。
func (a *Agent) walletNote(ctx context.Context) string {
	if a.chain == nil {
		return ""
	}
	balance, err := a.chain.Balances(ctx, a.walletAddr, a.walletToken)
	if err != nil {
		return fmt.Sprintf("balance unavailable (%v)", err)
	}
	note := fmt.Sprintf("%s holds %s native", a.walletAddr.Hex(), web3.FormatUnits(balance.Native, 18))
	if balance.Token != nil {
		note += fmt.Sprintf(" and %s USDC", web3.FormatUnits(balance.Token, balance.TokenDecimals))
		if balance.Token.Cmp(big.NewInt(0)) == 0 {
			note += "; placements will fail until the wallet is funded"
		}
	}
	return note + "."
}

func decodeArgs(raw string, v any) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		raw = "{}"
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidInput, err, "tool arguments must be a JSON object with numeric dimensions")
	}
	return nil
}

// errorContent 将错误渲染为模型可读的结构化结果。
func errorContent(err error) string {
	payload := errorPayload(err)
	encoded, marshalErr := json.Marshal(map[string]any{"error": payload})
	if marshalErr != nil {
		return `{"error":{"code":"UNKNOWN","message":"failed to encode error"}}`
	}
	return string(encoded)
}

func errorPayload(err error) xerrors.Payload {
	var apiErr *gridclient.APIError
	if stdErrors.As(err, &apiErr) {
		code := xerrors.Code(apiErr.Code)
		if code == "" {
			code = xerrors.CodeUpstreamFailure
		}
		return xerrors.Payload{
			Code:      code,
			Message:   apiErr.Message,
			Retryable: apiErr.Retryable,
			Details:   apiErr.Details,
		}
	}
	var payErr *gridclient.PaymentError
	if stdErrors.As(err, &payErr) {
		return xerrors.PayloadOf(xerrors.Wrap(xerrors.CodePaymentRequired, err, payErr.Reason))
	}
	if _, ok := xerrors.From(err); ok {
		return xerrors.PayloadOf(err)
	}
	if stdErrors.Is(err, context.DeadlineExceeded) {
		return xerrors.PayloadOf(xerrors.Wrap(xerrors.CodeTimeout, err, "tool call timed out"))
	}
	return xerrors.PayloadOf(xerrors.Wrap(xerrors.CodeUpstreamFailure, err, "tool call failed"))
}
