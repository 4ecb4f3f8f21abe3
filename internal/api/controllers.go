package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"asset-rebalancer/internal/chain"
	"asset-rebalancer/internal/events"
	"asset-rebalancer/internal/market"
	"asset-rebalancer/internal/vault"
	"asset-rebalancer/pkg/address"
	"asset-rebalancer/pkg/db"
	"asset-rebalancer/pkg/exchanges/common"
	"asset-rebalancer/pkg/token"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

type depositRequest struct {
	PctA uint16 `json:"pct_a"`
	PctB uint16 `json:"pct_b"`
	// Human amounts; empty moves the whole wallet balance.
	AmountA       string `json:"amount_a"`
	AmountB       string `json:"amount_b"`
	AutoRebalance bool   `json:"auto_rebalance"`
}

type initAccountsRequest struct {
	BumpA uint8 `json:"bump_a"`
	BumpB uint8 `json:"bump_b"`
}

type withdrawRequest struct {
	ForceCancel bool `json:"force_cancel"`
}

type faucetRequest struct {
	Owner  string `json:"owner" binding:"required"`
	Symbol string `json:"symbol" binding:"required"`
	Amount string `json:"amount" binding:"required"`
}

type setPriceRequest struct {
	Price   string `json:"price" binding:"required"`
	ConfBps uint64 `json:"conf_bps"`
}

type listQuery struct {
	Limit int   `form:"limit"`
	After int64 `form:"after"`
}

func (q *listQuery) normalize() {
	if q.Limit <= 0 {
		q.Limit = 50
	}
	if q.Limit > 500 {
		q.Limit = 500
	}
	if q.After < 0 {
		q.After = 0
	}
}

func respondError(c *gin.Context, status int, code, msg string) {
	c.JSON(status, gin.H{
		"code":  code,
		"error": msg,
	})
}

// statusFor maps vault errors onto HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, vault.ErrNotOwner):
		return http.StatusForbidden
	case errors.Is(err, vault.ErrWrongLifecycle),
		errors.Is(err, vault.ErrAlreadyInitialized),
		errors.Is(err, vault.ErrOrdersStillOpen),
		errors.Is(err, vault.ErrNothingToWithdraw):
		return http.StatusConflict
	}
	switch vault.KindOf(err) {
	case vault.KindValidation:
		return http.StatusBadRequest
	case vault.KindMarket, vault.KindArithmetic:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// respondVaultError logs the failure once and writes the stable code.
func respondVaultError(c *gin.Context, op string, err error) {
	status := statusFor(err)
	code := vault.CodeOf(err)
	if status == http.StatusGatewayTimeout {
		code = "TIMEOUT"
	}
	ev := log.Warn()
	if status >= http.StatusInternalServerError {
		ev = log.Error()
	}
	ev.Err(err).Str("op", op).Str("code", code).Str("request_id", c.GetString("RequestID")).Msg("instruction failed")
	respondError(c, status, code, err.Error())
}

func (s *Server) owner(c *gin.Context) (address.Address, bool) {
	owner, ok := CurrentOwner(c)
	if !ok {
		respondError(c, http.StatusForbidden, "WALLET_REQUIRED", "a wallet token is required")
	}
	return owner, ok
}

// associated resolves owner's canonical token accounts for A, B and quote.
func (s *Server) associated(owner address.Address) (a, b, q address.Address, err error) {
	if a, err = token.AssociatedAddress(owner, s.Fixture.Assets[0].Mint); err != nil {
		return
	}
	if b, err = token.AssociatedAddress(owner, s.Fixture.Assets[1].Mint); err != nil {
		return
	}
	q, err = token.AssociatedAddress(owner, s.Fixture.QuoteMint)
	return
}

// ----------------------------------------
// Read endpoints
// ----------------------------------------

func (s *Server) getSystemStatus(c *gin.Context) {
	resp := gin.H{"meta": s.Meta}
	if s.Runtime != nil {
		resp["slot"] = s.Runtime.Slot()
		resp["time"] = s.Runtime.Now().UTC().Format(time.RFC3339)
	}
	if s.Program != nil {
		resp["portfolios"] = len(s.Program.Portfolios())
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) getMetrics(c *gin.Context) {
	if s.Metrics == nil {
		respondError(c, http.StatusServiceUnavailable, "METRICS_DISABLED", "metrics not configured")
		return
	}
	c.JSON(http.StatusOK, s.Metrics.GetSnapshot())
}

type levelView struct {
	Price     string `json:"price"`
	Size      string `json:"size"`
	PriceLots uint64 `json:"price_lots"`
	BaseLots  uint64 `json:"base_lots"`
}

type marketView struct {
	Symbol      string              `json:"symbol"`
	Bundle      common.MarketBundle `json:"bundle"`
	Feed        string              `json:"feed"`
	OraclePrice string              `json:"oracle_price,omitempty"`
	PublishTime int64               `json:"publish_time,omitempty"`
	Bids        []levelView         `json:"bids"`
	Asks        []levelView         `json:"asks"`
}

func (s *Server) getMarkets(c *gin.Context) {
	if s.Fixture == nil || s.Runtime == nil {
		respondError(c, http.StatusServiceUnavailable, "MARKETS_UNAVAILABLE", "markets not configured")
		return
	}
	levels, _ := strconv.Atoi(c.DefaultQuery("levels", "10"))

	out := make([]marketView, 0, len(s.Fixture.Assets))
	for _, a := range s.Fixture.Assets {
		var (
			depth common.Depth
			err   error
		)
		s.Runtime.View(func(v *chain.View) { depth, err = v.Venue().Depth(a.Market.MarketID, levels) })
		if err != nil {
			respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
			return
		}
		mv := marketView{
			Symbol: a.Market.Symbol,
			Bundle: a.Market,
			Feed:   a.Config.Feed,
			Bids:   s.levelViews(depth.Bids, a),
			Asks:   s.levelViews(depth.Asks, a),
		}
		if s.Feed != nil {
			if q, err := s.Feed.ReadPrice(c.Request.Context(), a.Config.Feed); err == nil {
				mv.OraclePrice = market.DisplayPrice(q)
				mv.PublishTime = q.PublishTime
			}
		}
		out = append(out, mv)
	}
	c.JSON(http.StatusOK, gin.H{"quote": s.Fixture.QuoteSymbol, "markets": out})
}

func (s *Server) levelViews(levels []common.Level, a market.Asset) []levelView {
	out := make([]levelView, 0, len(levels))
	for _, l := range levels {
		out = append(out, levelView{
			Price:     market.LotsPrice(l.PriceLots, a.Config.Decimals, s.Fixture.QuoteDecimals, a.Market),
			Size:      market.LotsSize(l.BaseLots, a.Config.Decimals, a.Market),
			PriceLots: l.PriceLots,
			BaseLots:  l.BaseLots,
		})
	}
	return out
}

type walletBalance struct {
	Account string `json:"account"`
	Mint    string `json:"mint"`
	Symbol  string `json:"symbol"`
	Amount  uint64 `json:"amount"`
	Display string `json:"display"`
}

func (s *Server) getWallet(c *gin.Context) {
	owner, ok := s.owner(c)
	if !ok {
		return
	}
	type meta struct {
		symbol   string
		decimals uint8
	}
	mints := map[address.Address]meta{s.Fixture.QuoteMint: {s.Fixture.QuoteSymbol, s.Fixture.QuoteDecimals}}
	for _, a := range s.Fixture.Assets {
		mints[a.Mint] = meta{a.Config.Symbol, a.Config.Decimals}
	}

	var accounts []token.Account
	s.Runtime.View(func(v *chain.View) { accounts = v.Ledger().AccountsByOwner(owner) })

	out := make([]walletBalance, 0, len(accounts))
	for _, acct := range accounts {
		m := mints[acct.Mint]
		out = append(out, walletBalance{
			Account: acct.Address.String(),
			Mint:    acct.Mint.String(),
			Symbol:  m.symbol,
			Amount:  acct.Amount,
			Display: market.Format(acct.Amount, m.decimals),
		})
	}
	c.JSON(http.StatusOK, gin.H{"owner": owner.String(), "balances": out})
}

type positionDisplay struct {
	A          string `json:"a"`
	B          string `json:"b"`
	Quote      string `json:"quote"`
	WorthTotal string `json:"worth_total"`
}

type portfolioView struct {
	vault.Position
	Display   positionDisplay        `json:"display"`
	LastEvent *events.AssetsBalanced `json:"last_event,omitempty"`
}

func (s *Server) getPortfolio(c *gin.Context) {
	owner, ok := s.owner(c)
	if !ok {
		return
	}
	pos, err := s.Program.Position(owner)
	if errors.Is(err, vault.ErrWrongLifecycle) {
		respondError(c, http.StatusNotFound, "PORTFOLIO_NOT_FOUND", "no active portfolio")
		return
	}
	if err != nil {
		respondVaultError(c, "position", err)
		return
	}
	view := portfolioView{
		Position: pos,
		Display: positionDisplay{
			A:          market.Format(pos.Balances.A, pos.Portfolio.A.Decimals),
			B:          market.Format(pos.Balances.B, pos.Portfolio.B.Decimals),
			Quote:      market.Format(pos.Balances.Quote, pos.Portfolio.QuoteDecimals),
			WorthTotal: market.Format(pos.Valuation.Total, pos.Portfolio.QuoteDecimals),
		},
	}
	if s.State != nil {
		if ev, ok := s.State.LastBalanced(owner.String()); ok {
			view.LastEvent = &ev
		}
	}
	c.JSON(http.StatusOK, view)
}

func (s *Server) getPortfolioEvents(c *gin.Context) {
	owner, ok := s.owner(c)
	if !ok {
		return
	}
	var q listQuery
	_ = c.ShouldBindQuery(&q)
	q.normalize()

	evs, err := s.DB.Queries().GetRebalanceEventsByOwner(c.Request.Context(), owner.String(), q.Limit)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	if evs == nil {
		evs = []db.RebalanceEvent{}
	}
	c.JSON(http.StatusOK, gin.H{"events": evs})
}

func (s *Server) getPortfolioOrders(c *gin.Context) {
	owner, ok := s.owner(c)
	if !ok {
		return
	}
	var q listQuery
	_ = c.ShouldBindQuery(&q)
	q.normalize()

	pfAddr, _, err := vault.PortfolioAddress(s.Program.Config().ProgramID, owner)
	if err != nil {
		respondVaultError(c, "orders", err)
		return
	}
	ctx := c.Request.Context()
	orders, err := s.DB.Queries().GetOrdersByPortfolio(ctx, pfAddr.String(), q.Limit)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	fills, err := s.DB.Queries().GetFillsByPortfolio(ctx, pfAddr.String(), q.Limit)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	if orders == nil {
		orders = []db.VenueOrder{}
	}
	if fills == nil {
		fills = []db.VenueFill{}
	}
	c.JSON(http.StatusOK, gin.H{"portfolio": pfAddr.String(), "orders": orders, "fills": fills})
}

// ----------------------------------------
// Instructions
// ----------------------------------------

func (s *Server) deposit(c *gin.Context) {
	owner, ok := s.owner(c)
	if !ok {
		return
	}
	var req depositRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_PAYLOAD", "invalid request payload")
		return
	}
	amountA, err := market.Native(req.AmountA, s.Fixture.Assets[0].Config.Decimals)
	if err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_AMOUNT", "amount_a: "+err.Error())
		return
	}
	amountB, err := market.Native(req.AmountB, s.Fixture.Assets[1].Config.Decimals)
	if err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_AMOUNT", "amount_b: "+err.Error())
		return
	}
	userA, userB, _, err := s.associated(owner)
	if err != nil {
		respondVaultError(c, "deposit", err)
		return
	}

	pf, err := s.Program.Deposit(c.Request.Context(), vault.DepositRequest{
		Owner: owner, PctA: req.PctA, PctB: req.PctB,
		UserA: userA, UserB: userB,
		AmountA: amountA, AmountB: amountB,
		AutoRebalance: req.AutoRebalance,
	})
	if err != nil {
		respondVaultError(c, "deposit", err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"portfolio": pf})
}

func (s *Server) initAccounts(c *gin.Context) {
	owner, ok := s.owner(c)
	if !ok {
		return
	}
	var req initAccountsRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, http.StatusBadRequest, "INVALID_PAYLOAD", "invalid request payload")
			return
		}
	}
	pf, err := s.Program.InitAccounts(c.Request.Context(), vault.InitAccountsRequest{
		Owner: owner, BumpA: req.BumpA, BumpB: req.BumpB,
	})
	if err != nil {
		respondVaultError(c, "init_accounts", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"portfolio": pf})
}

func (s *Server) refreshPrices(c *gin.Context) {
	owner, ok := s.owner(c)
	if !ok {
		return
	}
	pf, err := s.Program.RefreshPrices(c.Request.Context(), vault.RefreshRequest{Owner: owner})
	if err != nil {
		respondVaultError(c, "refresh_prices", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"portfolio": pf})
}

func (s *Server) rebalance(c *gin.Context) {
	owner, ok := s.owner(c)
	if !ok {
		return
	}
	res, err := s.Program.Rebalance(c.Request.Context(), vault.RebalanceRequest{Owner: owner})
	if err != nil {
		respondVaultError(c, "rebalance", err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) closeAccounts(c *gin.Context) {
	owner, ok := s.owner(c)
	if !ok {
		return
	}
	pf, err := s.Program.CloseAccounts(c.Request.Context(), vault.CloseAccountsRequest{Owner: owner})
	if err != nil {
		respondVaultError(c, "close_accounts", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"portfolio": pf})
}

func (s *Server) withdraw(c *gin.Context) {
	owner, ok := s.owner(c)
	if !ok {
		return
	}
	var req withdrawRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, http.StatusBadRequest, "INVALID_PAYLOAD", "invalid request payload")
			return
		}
	}
	userA, userB, userQ, err := s.associated(owner)
	if err != nil {
		respondVaultError(c, "withdraw", err)
		return
	}
	res, err := s.Program.Withdraw(c.Request.Context(), vault.WithdrawRequest{
		Owner: owner, UserA: userA, UserB: userB, UserQuote: userQ, ForceCancel: req.ForceCancel,
	})
	if err != nil {
		respondVaultError(c, "withdraw", err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// ----------------------------------------
// Operator endpoints
// ----------------------------------------

func (s *Server) faucet(c *gin.Context) {
	var req faucetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_PAYLOAD", "owner, symbol and amount are required")
		return
	}
	owner, err := address.Parse(req.Owner)
	if err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_ADDRESS", err.Error())
		return
	}
	mint, decimals, ok := s.Fixture.MintBySymbol(req.Symbol)
	if !ok {
		respondError(c, http.StatusNotFound, "UNKNOWN_SYMBOL", "unknown symbol "+req.Symbol)
		return
	}
	amount, err := market.Native(req.Amount, decimals)
	if err != nil || amount == 0 {
		respondError(c, http.StatusBadRequest, "INVALID_AMOUNT", "amount must be a positive decimal")
		return
	}
	acct, err := s.Fixture.Faucet(c.Request.Context(), s.Runtime, owner, mint, amount)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	log.Info().Str("owner", owner.Short()).Str("symbol", req.Symbol).Str("amount", req.Amount).Msg("faucet minted")
	c.JSON(http.StatusOK, gin.H{"account": acct.String(), "amount": amount})
}

func (s *Server) setPrice(c *gin.Context) {
	if s.Prices == nil {
		respondError(c, http.StatusConflict, "PRICES_READ_ONLY", "prices come from an external oracle")
		return
	}
	feed := c.Param("feed")
	known := false
	for _, id := range s.Prices.Feeds() {
		if id == feed {
			known = true
			break
		}
	}
	if !known {
		respondError(c, http.StatusNotFound, "UNKNOWN_FEED", "unknown feed "+feed)
		return
	}
	var req setPriceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_PAYLOAD", "price is required")
		return
	}
	q, err := market.OracleQuote(req.Price, req.ConfBps, time.Now())
	if err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_PRICE", err.Error())
		return
	}
	s.Prices.Set(feed, q)
	if s.Bus != nil {
		s.Bus.Publish(events.EventPriceTick, events.PriceTick{
			Feed: feed, Price: q.Price, Expo: q.Expo, Conf: q.Conf, PublishTime: q.PublishTime,
		})
	}
	c.JSON(http.StatusOK, gin.H{"feed": feed, "quote": q, "display": market.DisplayPrice(q)})
}

func (s *Server) crank(c *gin.Context) {
	n, err := s.Program.CrankMarkets(c.Request.Context())
	if err != nil {
		respondVaultError(c, "crank", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"consumed": n})
}

func (s *Server) listPortfolios(c *gin.Context) {
	rows, err := s.DB.Queries().ListPortfolios(c.Request.Context(), c.Query("state"))
	if err != nil {
		respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	if rows == nil {
		rows = []db.PortfolioRow{}
	}
	c.JSON(http.StatusOK, gin.H{"portfolios": rows})
}

func (s *Server) listOutbox(c *gin.Context) {
	var q listQuery
	_ = c.ShouldBindQuery(&q)
	q.normalize()
	out, err := s.DB.Queries().ListOutboxAfter(c.Request.Context(), q.After, q.Limit)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	if out == nil {
		out = []db.OutboxEvent{}
	}
	c.JSON(http.StatusOK, gin.H{"events": out})
}
