// Package inmem provides a deterministic in-memory implementation of every
// protocol capability: a lending ledger with health accounting, a scripted
// price oracle, an oracle-priced swap venue and a token bank. It exists so
// the accounting and workflow layers can be tested end to end without any
// network, and so the demo binary has a sandbox to run against.
package inmem

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"levcore/fixedpoint"
	"levcore/protocol"
	"levcore/risk"
)

var basisPoints = big.NewInt(10_000)

// AssetConfig describes one listed asset.
type AssetConfig struct {
	Decimals                uint8
	LTVBps                  uint64
	LiquidationThresholdBps uint64
}

// Pool is the shared in-memory protocol state. Callers obtain a Session to
// act against it under a specific identity.
type Pool struct {
	mu sync.Mutex

	assets map[common.Address]AssetConfig
	prices map[common.Address]*big.Int

	// balances[asset][account] are free token balances.
	balances map[common.Address]map[common.Address]*big.Int
	// allowances[asset][owner][spender].
	allowances map[common.Address]map[common.Address]map[common.Address]*big.Int
	// collateral[account][asset] and debt[account][asset] are ledger
	// positions in token units.
	collateral map[common.Address]map[common.Address]*big.Int
	debt       map[common.Address]map[common.Address]*big.Int

	// protocolFees[asset] accumulates the treasury share of liquidation
	// bonuses.
	protocolFees map[common.Address]*big.Int

	swapSlippageBps     uint64
	liquidationBonusBps uint64
	protocolFeeBps      uint64
	closeFactor         risk.CloseFactorPolicy
}

// NewPool constructs an empty pool with the given liquidation settings.
func NewPool(liquidationBonusBps, protocolFeeBps uint64, closeFactor risk.CloseFactorPolicy) *Pool {
	return &Pool{
		assets:              make(map[common.Address]AssetConfig),
		prices:              make(map[common.Address]*big.Int),
		balances:            make(map[common.Address]map[common.Address]*big.Int),
		allowances:          make(map[common.Address]map[common.Address]map[common.Address]*big.Int),
		collateral:          make(map[common.Address]map[common.Address]*big.Int),
		debt:                make(map[common.Address]map[common.Address]*big.Int),
		protocolFees:        make(map[common.Address]*big.Int),
		liquidationBonusBps: liquidationBonusBps,
		protocolFeeBps:      protocolFeeBps,
		closeFactor:         closeFactor,
	}
}

// ListAsset registers an asset with its risk weights.
func (p *Pool) ListAsset(asset common.Address, cfg AssetConfig) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.assets[asset] = cfg
}

// SetPrice scripts the oracle price (base currency, scale 8) for an asset.
func (p *Pool) SetPrice(asset common.Address, price *big.Int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.prices[asset] = new(big.Int).Set(price)
}

// SetSwapSlippage configures the basis points shaved off every swap output.
func (p *Pool) SetSwapSlippage(bps uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.swapSlippageBps = bps
}

// Mint credits free token balance to an account.
func (p *Pool) Mint(asset, account common.Address, amount *big.Int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.credit(p.balances, asset, account, amount)
}

// Balance reports an account's free token balance.
func (p *Pool) Balance(asset, account common.Address) *big.Int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return new(big.Int).Set(p.lookup(p.balances, asset, account))
}

// CollateralOf reports an account's supplied collateral in token units.
func (p *Pool) CollateralOf(account, asset common.Address) *big.Int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return new(big.Int).Set(p.position(p.collateral, account, asset))
}

// DebtOf reports an account's outstanding debt in token units.
func (p *Pool) DebtOf(account, asset common.Address) *big.Int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return new(big.Int).Set(p.position(p.debt, account, asset))
}

// ProtocolFeesOf reports the accumulated treasury share for an asset.
func (p *Pool) ProtocolFeesOf(asset common.Address) *big.Int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if fees, ok := p.protocolFees[asset]; ok {
		return new(big.Int).Set(fees)
	}
	return big.NewInt(0)
}

// Session binds the pool to an acting identity. The returned session
// implements every protocol capability with actor as the funds source for
// deposits, repayments and liquidations.
func (p *Pool) Session(actor common.Address) *Session {
	return &Session{pool: p, actor: actor}
}

func (p *Pool) lookup(table map[common.Address]map[common.Address]*big.Int, asset, account common.Address) *big.Int {
	if accounts, ok := table[asset]; ok {
		if v, ok := accounts[account]; ok {
			return v
		}
	}
	return big.NewInt(0)
}

func (p *Pool) credit(table map[common.Address]map[common.Address]*big.Int, asset, account common.Address, amount *big.Int) {
	accounts, ok := table[asset]
	if !ok {
		accounts = make(map[common.Address]*big.Int)
		table[asset] = accounts
	}
	current, ok := accounts[account]
	if !ok {
		current = big.NewInt(0)
	}
	accounts[account] = new(big.Int).Add(current, amount)
}

func (p *Pool) debit(table map[common.Address]map[common.Address]*big.Int, asset, account common.Address, amount *big.Int) error {
	current := p.lookup(table, asset, account)
	if current.Cmp(amount) < 0 {
		return protocol.ErrInsufficientBalance
	}
	table[asset][account] = new(big.Int).Sub(current, amount)
	return nil
}

func (p *Pool) position(table map[common.Address]map[common.Address]*big.Int, account, asset common.Address) *big.Int {
	if assets, ok := table[account]; ok {
		if v, ok := assets[asset]; ok {
			return v
		}
	}
	return big.NewInt(0)
}

func (p *Pool) addPosition(table map[common.Address]map[common.Address]*big.Int, account, asset common.Address, amount *big.Int) {
	assets, ok := table[account]
	if !ok {
		assets = make(map[common.Address]*big.Int)
		table[account] = assets
	}
	current, ok := assets[asset]
	if !ok {
		current = big.NewInt(0)
	}
	sum := new(big.Int).Add(current, amount)
	if sum.Sign() < 0 {
		sum = big.NewInt(0)
	}
	assets[asset] = sum
}

func (p *Pool) price(asset common.Address) (*big.Int, error) {
	price, ok := p.prices[asset]
	if !ok || price.Sign() <= 0 {
		return nil, fmt.Errorf("%w: no price for asset %s", protocol.ErrExternalRejection, asset.Hex())
	}
	return price, nil
}

func (p *Pool) assetConfig(asset common.Address) (AssetConfig, error) {
	cfg, ok := p.assets[asset]
	if !ok {
		return AssetConfig{}, fmt.Errorf("%w: asset %s not listed", protocol.ErrExternalRejection, asset.Hex())
	}
	return cfg, nil
}

// tokenValueBase converts token units into base currency at the asset price.
func (p *Pool) tokenValueBase(asset common.Address, amount *big.Int) (*big.Int, error) {
	cfg, err := p.assetConfig(asset)
	if err != nil {
		return nil, err
	}
	price, err := p.price(asset)
	if err != nil {
		return nil, err
	}
	return fixedpoint.MulDiv(amount, price, fixedpoint.Pow10(cfg.Decimals))
}

// accountData aggregates an account's ledger position. Caller holds the lock.
func (p *Pool) accountData(account common.Address) (protocol.AccountData, error) {
	totalCollateral := big.NewInt(0)
	weightedThreshold := big.NewInt(0)
	weightedLTV := big.NewInt(0)
	for asset, amount := range p.collateral[account] {
		if amount.Sign() == 0 {
			continue
		}
		value, err := p.tokenValueBase(asset, amount)
		if err != nil {
			return protocol.AccountData{}, err
		}
		cfg := p.assets[asset]
		totalCollateral.Add(totalCollateral, value)
		weightedThreshold.Add(weightedThreshold, new(big.Int).Mul(value, new(big.Int).SetUint64(cfg.LiquidationThresholdBps)))
		weightedLTV.Add(weightedLTV, new(big.Int).Mul(value, new(big.Int).SetUint64(cfg.LTVBps)))
	}
	totalDebt := big.NewInt(0)
	for asset, amount := range p.debt[account] {
		if amount.Sign() == 0 {
			continue
		}
		value, err := p.tokenValueBase(asset, amount)
		if err != nil {
			return protocol.AccountData{}, err
		}
		totalDebt.Add(totalDebt, value)
	}

	var thresholdBps, ltvBps uint64
	if totalCollateral.Sign() > 0 {
		thresholdBps = new(big.Int).Quo(weightedThreshold, totalCollateral).Uint64()
		ltvBps = new(big.Int).Quo(weightedLTV, totalCollateral).Uint64()
	}

	borrowCapacity := new(big.Int).Mul(totalCollateral, new(big.Int).SetUint64(ltvBps))
	borrowCapacity.Quo(borrowCapacity, basisPoints)
	available := new(big.Int).Sub(borrowCapacity, totalDebt)
	if available.Sign() < 0 {
		available = big.NewInt(0)
	}

	return protocol.AccountData{
		TotalCollateralBase:     totalCollateral,
		TotalDebtBase:           totalDebt,
		AvailableBorrowsBase:    available,
		LiquidationThresholdBps: thresholdBps,
		LTVBps:                  ltvBps,
		HealthFactor:            risk.HealthFactor(totalCollateral, thresholdBps, totalDebt),
	}, nil
}

// Session is a Pool bound to one acting identity.
type Session struct {
	pool  *Pool
	actor common.Address
}

var (
	_ protocol.Ledger    = (*Session)(nil)
	_ protocol.Oracle    = (*Session)(nil)
	_ protocol.SwapVenue = (*Session)(nil)
	_ protocol.TokenBank = (*Session)(nil)
)

// Deposit locks amount of the actor's tokens as collateral for beneficiary.
func (s *Session) Deposit(_ context.Context, asset common.Address, amount *big.Int, beneficiary common.Address) error {
	p := s.pool
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, err := p.assetConfig(asset); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("%w: deposit amount must be positive", protocol.ErrExternalRejection)
	}
	if err := p.debit(p.balances, asset, s.actor, amount); err != nil {
		return err
	}
	p.addPosition(p.collateral, beneficiary, asset, amount)
	return nil
}

// Borrow draws funds against beneficiary's collateral and credits the actor.
func (s *Session) Borrow(_ context.Context, asset common.Address, amount *big.Int, _ protocol.BorrowRateMode, beneficiary common.Address) (*big.Int, error) {
	p := s.pool
	p.mu.Lock()
	defer p.mu.Unlock()
	if amount == nil || amount.Sign() <= 0 {
		return nil, fmt.Errorf("%w: borrow amount must be positive", protocol.ErrExternalRejection)
	}
	value, err := p.tokenValueBase(asset, amount)
	if err != nil {
		return nil, err
	}
	data, err := p.accountData(beneficiary)
	if err != nil {
		return nil, err
	}
	if data.AvailableBorrowsBase.Cmp(value) < 0 {
		return nil, fmt.Errorf("%w: borrow exceeds available collateral capacity", protocol.ErrExternalRejection)
	}
	p.addPosition(p.debt, beneficiary, asset, amount)
	p.credit(p.balances, asset, s.actor, amount)
	return new(big.Int).Set(amount), nil
}

// Repay pays down beneficiary's debt from the actor's balance, returning the
// amount actually applied.
func (s *Session) Repay(_ context.Context, asset common.Address, amount *big.Int, beneficiary common.Address) (*big.Int, error) {
	p := s.pool
	p.mu.Lock()
	defer p.mu.Unlock()
	if amount == nil || amount.Sign() <= 0 {
		return nil, fmt.Errorf("%w: repay amount must be positive", protocol.ErrExternalRejection)
	}
	outstanding := p.position(p.debt, beneficiary, asset)
	applied := new(big.Int).Set(amount)
	if applied.Cmp(outstanding) > 0 {
		applied = new(big.Int).Set(outstanding)
	}
	if applied.Sign() == 0 {
		return big.NewInt(0), nil
	}
	if err := p.debit(p.balances, asset, s.actor, applied); err != nil {
		return nil, err
	}
	p.addPosition(p.debt, beneficiary, asset, new(big.Int).Neg(applied))
	return applied, nil
}

// Withdraw releases the actor's supplied collateral to recipient, capped at
// the supplied amount and rejected when it would leave the position
// unhealthy.
func (s *Session) Withdraw(_ context.Context, asset common.Address, amount *big.Int, recipient common.Address) (*big.Int, error) {
	p := s.pool
	p.mu.Lock()
	defer p.mu.Unlock()
	if amount == nil || amount.Sign() <= 0 {
		return nil, fmt.Errorf("%w: withdraw amount must be positive", protocol.ErrExternalRejection)
	}
	supplied := p.position(p.collateral, s.actor, asset)
	actual := new(big.Int).Set(amount)
	if actual.Cmp(supplied) > 0 {
		actual = new(big.Int).Set(supplied)
	}
	if actual.Sign() == 0 {
		return big.NewInt(0), nil
	}
	p.addPosition(p.collateral, s.actor, asset, new(big.Int).Neg(actual))
	data, err := p.accountData(s.actor)
	if err != nil {
		return nil, err
	}
	if data.TotalDebtBase.Sign() > 0 && risk.IsLiquidatable(data.HealthFactor) {
		// Undo and reject: the ledger never lets a withdrawal break health.
		p.addPosition(p.collateral, s.actor, asset, actual)
		return nil, fmt.Errorf("%w: withdrawal would leave position unhealthy", protocol.ErrExternalRejection)
	}
	p.credit(p.balances, asset, recipient, actual)
	return actual, nil
}

// Liquidate repays target's debt from the actor's balance and seizes
// discounted collateral, honouring the close-factor cap. The bonus's
// protocol-fee share is withheld for the treasury.
func (s *Session) Liquidate(_ context.Context, collateralAsset, debtAsset, target common.Address, debtToCover *big.Int, receiveShareToken bool) (*big.Int, *big.Int, error) {
	p := s.pool
	p.mu.Lock()
	defer p.mu.Unlock()
	if debtToCover == nil || debtToCover.Sign() <= 0 {
		return nil, nil, fmt.Errorf("%w: debt to cover must be positive", protocol.ErrExternalRejection)
	}
	data, err := p.accountData(target)
	if err != nil {
		return nil, nil, err
	}
	if !risk.IsLiquidatable(data.HealthFactor) {
		return nil, nil, fmt.Errorf("%w: target position is healthy", protocol.ErrExternalRejection)
	}

	outstanding := p.position(p.debt, target, debtAsset)
	repay := new(big.Int).Set(debtToCover)
	if cap := risk.MaxLiquidatableDebt(outstanding, data.HealthFactor, p.closeFactor); repay.Cmp(cap) > 0 {
		repay = cap
	}
	if repay.Sign() == 0 {
		return nil, nil, fmt.Errorf("%w: no liquidatable debt", protocol.ErrExternalRejection)
	}

	debtCfg, err := p.assetConfig(debtAsset)
	if err != nil {
		return nil, nil, err
	}
	collateralCfg, err := p.assetConfig(collateralAsset)
	if err != nil {
		return nil, nil, err
	}
	debtPrice, err := p.price(debtAsset)
	if err != nil {
		return nil, nil, err
	}
	collateralPrice, err := p.price(collateralAsset)
	if err != nil {
		return nil, nil, err
	}

	seized, protocolFee, err := risk.LiquidationSeizure(
		repay, debtPrice, collateralPrice,
		debtCfg.Decimals, collateralCfg.Decimals,
		risk.Params{LiquidationBonusBps: p.liquidationBonusBps, ProtocolFeeBps: p.protocolFeeBps},
	)
	if err != nil {
		return nil, nil, err
	}
	if supplied := p.position(p.collateral, target, collateralAsset); seized.Cmp(supplied) > 0 {
		seized = new(big.Int).Set(supplied)
		if protocolFee.Cmp(seized) > 0 {
			protocolFee = new(big.Int).Set(seized)
		}
	}

	if err := p.debit(p.balances, debtAsset, s.actor, repay); err != nil {
		return nil, nil, err
	}
	p.addPosition(p.debt, target, debtAsset, new(big.Int).Neg(repay))
	p.addPosition(p.collateral, target, collateralAsset, new(big.Int).Neg(seized))

	liquidatorShare := new(big.Int).Sub(seized, protocolFee)
	if receiveShareToken {
		p.addPosition(p.collateral, s.actor, collateralAsset, liquidatorShare)
	} else {
		p.credit(p.balances, collateralAsset, s.actor, liquidatorShare)
	}
	if fees, ok := p.protocolFees[collateralAsset]; ok {
		p.protocolFees[collateralAsset] = new(big.Int).Add(fees, protocolFee)
	} else {
		p.protocolFees[collateralAsset] = new(big.Int).Set(protocolFee)
	}

	return seized, repay, nil
}

// AccountData reports the aggregate ledger view of account.
func (s *Session) AccountData(_ context.Context, account common.Address) (protocol.AccountData, error) {
	p := s.pool
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.accountData(account)
}

// DebtBalance reports account's outstanding debt in asset token units.
func (s *Session) DebtBalance(_ context.Context, asset common.Address, account common.Address) (*big.Int, error) {
	p := s.pool
	p.mu.Lock()
	defer p.mu.Unlock()
	return new(big.Int).Set(p.position(p.debt, account, asset)), nil
}

// AssetPrice quotes the scripted oracle price at scale 8.
func (s *Session) AssetPrice(_ context.Context, asset common.Address) (*big.Int, error) {
	p := s.pool
	p.mu.Lock()
	defer p.mu.Unlock()
	price, err := p.price(asset)
	if err != nil {
		return nil, err
	}
	return new(big.Int).Set(price), nil
}

// Swap executes at the oracle mid-price minus the configured slippage. The
// output check happens before any balance mutation.
func (s *Session) Swap(_ context.Context, req protocol.SwapRequest) (*big.Int, error) {
	p := s.pool
	p.mu.Lock()
	defer p.mu.Unlock()
	if req.AmountIn == nil || req.AmountIn.Sign() <= 0 {
		return nil, fmt.Errorf("%w: swap input must be positive", protocol.ErrExternalRejection)
	}
	inCfg, err := p.assetConfig(req.TokenIn)
	if err != nil {
		return nil, err
	}
	outCfg, err := p.assetConfig(req.TokenOut)
	if err != nil {
		return nil, err
	}
	priceIn, err := p.price(req.TokenIn)
	if err != nil {
		return nil, err
	}
	priceOut, err := p.price(req.TokenOut)
	if err != nil {
		return nil, err
	}

	valueBase, err := fixedpoint.MulDiv(req.AmountIn, priceIn, fixedpoint.Pow10(inCfg.Decimals))
	if err != nil {
		return nil, err
	}
	out, err := fixedpoint.Convert(valueBase, priceOut, outCfg.Decimals)
	if err != nil {
		return nil, err
	}
	if p.swapSlippageBps > 0 {
		keep := new(big.Int).SetUint64(10_000 - p.swapSlippageBps)
		out.Mul(out, keep)
		out.Quo(out, basisPoints)
	}
	if req.MinAmountOut != nil && out.Cmp(req.MinAmountOut) < 0 {
		return nil, protocol.ErrSlippageExceeded
	}
	if err := p.debit(p.balances, req.TokenIn, s.actor, req.AmountIn); err != nil {
		return nil, err
	}
	p.credit(p.balances, req.TokenOut, req.Recipient, out)
	return out, nil
}

// TransferFrom moves tokens between accounts, enforcing allowances when the
// actor is not the owner.
func (s *Session) TransferFrom(_ context.Context, asset common.Address, owner, recipient common.Address, amount *big.Int) error {
	p := s.pool
	p.mu.Lock()
	defer p.mu.Unlock()
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("%w: transfer amount must not be negative", protocol.ErrExternalRejection)
	}
	if amount.Sign() == 0 {
		return nil
	}
	if owner != s.actor {
		allowance := p.allowance(asset, owner, s.actor)
		if allowance.Cmp(amount) < 0 {
			return protocol.ErrInsufficientAllowance
		}
		p.setAllowance(asset, owner, s.actor, new(big.Int).Sub(allowance, amount))
	}
	if err := p.debit(p.balances, asset, owner, amount); err != nil {
		return err
	}
	p.credit(p.balances, asset, recipient, amount)
	return nil
}

// Approve grants spender an allowance over owner's tokens.
func (s *Session) Approve(_ context.Context, asset common.Address, owner, spender common.Address, amount *big.Int) error {
	p := s.pool
	p.mu.Lock()
	defer p.mu.Unlock()
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("%w: allowance must not be negative", protocol.ErrExternalRejection)
	}
	p.setAllowance(asset, owner, spender, new(big.Int).Set(amount))
	return nil
}

// BalanceOf reports an account's free token balance.
func (s *Session) BalanceOf(_ context.Context, asset common.Address, account common.Address) (*big.Int, error) {
	p := s.pool
	p.mu.Lock()
	defer p.mu.Unlock()
	return new(big.Int).Set(p.lookup(p.balances, asset, account)), nil
}

func (p *Pool) allowance(asset, owner, spender common.Address) *big.Int {
	if owners, ok := p.allowances[asset]; ok {
		if spenders, ok := owners[owner]; ok {
			if v, ok := spenders[spender]; ok {
				return v
			}
		}
	}
	return big.NewInt(0)
}

func (p *Pool) setAllowance(asset, owner, spender common.Address, amount *big.Int) {
	owners, ok := p.allowances[asset]
	if !ok {
		owners = make(map[common.Address]map[common.Address]*big.Int)
		p.allowances[asset] = owners
	}
	spenders, ok := owners[owner]
	if !ok {
		spenders = make(map[common.Address]*big.Int)
		owners[owner] = spenders
	}
	spenders[spender] = amount
}
