// ABOUTME: Login orchestrator running one automation worker per login transaction
// ABOUTME: Handlers talk to workers over per-transaction command/result channels with bounded waits

package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/markalston/portal-gateway/cache"
	"github.com/markalston/portal-gateway/logger"
	"github.com/markalston/portal-gateway/models"
	"github.com/markalston/portal-gateway/store"
)

// finishedRetention is how long terminal transactions stay visible to Status
const finishedRetention = 10 * time.Minute

type commandKind int

const (
	cmdSelectPhone commandKind = iota
	cmdSubmitCode
)

type loginCommand struct {
	kind commandKind
	arg  string
}

type loginResult struct {
	phones []string
	tokens *models.TokenSet
	err    error
}

// loginTx is one in-flight login. The worker goroutine is the only user of
// the automation session; handlers only touch the channels and the state
// guarded by mu.
type loginTx struct {
	id     string
	owner  string
	cancel context.CancelFunc

	cmds    chan loginCommand
	results chan loginResult
	done    chan struct{}

	mu           sync.Mutex
	phase        models.Phase
	history      []models.Phase
	phoneOptions []string
	diagnostic   string
	createdAt    time.Time
	lastActivity time.Time
	busy         bool
}

func (tx *loginTx) view() models.LoginTransactionView {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	return models.LoginTransactionView{
		ID:             tx.id,
		OwnerKey:       tx.owner,
		Phase:          tx.phase,
		History:        append([]models.Phase(nil), tx.history...),
		PhoneOptions:   append([]string(nil), tx.phoneOptions...),
		Diagnostic:     tx.diagnostic,
		CreatedAt:      tx.createdAt,
		LastActivityAt: tx.lastActivity,
	}
}

// advance moves to next if allowed. Caller holds tx.mu.
func (tx *loginTx) advance(next models.Phase, now time.Time) bool {
	if !tx.phase.CanTransition(next) {
		return false
	}
	tx.phase = next
	tx.history = append(tx.history, next)
	tx.lastActivity = now
	return true
}

// LoginOrchestrator owns the registry of login transactions
type LoginOrchestrator struct {
	automation   Automation
	store        store.Store
	locks        *OwnerLocks
	startTimeout time.Duration
	phaseTimeout time.Duration
	now          func() time.Time

	mu      sync.Mutex
	txs     map[string]*loginTx
	owners  map[string]string
	workers sync.WaitGroup

	// finished keeps terminal views around so status polls can see the outcome
	finished *cache.Cache
}

// NewLoginOrchestrator creates an orchestrator. startTimeout bounds the
// launch-to-phone-list step; phaseTimeout bounds every later wait.
func NewLoginOrchestrator(a Automation, s store.Store, locks *OwnerLocks, startTimeout, phaseTimeout time.Duration) *LoginOrchestrator {
	if locks == nil {
		locks = NewOwnerLocks()
	}
	return &LoginOrchestrator{
		automation:   a,
		store:        s,
		locks:        locks,
		startTimeout: startTimeout,
		phaseTimeout: phaseTimeout,
		now:          time.Now,
		txs:          make(map[string]*loginTx),
		owners:       make(map[string]string),
		finished:     cache.New(finishedRetention),
	}
}

// Start normalizes the owner, launches a worker and waits for the phone list.
// A second start for an owner with a live transaction returns ErrLoginInProgress.
func (o *LoginOrchestrator) Start(ctx context.Context, ownerRaw string) (models.LoginTransactionView, error) {
	owner, err := models.NormalizeOwner(ownerRaw)
	if err != nil {
		return models.LoginTransactionView{}, err
	}

	now := o.now()
	tx := &loginTx{
		id:           uuid.NewString(),
		owner:        owner,
		cmds:         make(chan loginCommand, 1),
		results:      make(chan loginResult, 1),
		done:         make(chan struct{}),
		phase:        models.PhaseStarted,
		history:      []models.Phase{models.PhaseStarted},
		createdAt:    now,
		lastActivity: now,
		busy:         true,
	}

	workerCtx, cancel := context.WithCancel(context.Background())
	tx.cancel = cancel

	o.mu.Lock()
	if _, ok := o.owners[owner]; ok {
		o.mu.Unlock()
		cancel()
		return models.LoginTransactionView{}, models.ErrLoginInProgress
	}
	o.txs[tx.id] = tx
	o.owners[owner] = tx.id
	o.mu.Unlock()

	o.workers.Add(1)
	go o.run(workerCtx, tx)

	slog.Info("Login started", "transaction_id", tx.id, "owner", logger.MaskOwner(owner))

	res, err := o.await(ctx, tx, o.startTimeout)
	if err != nil {
		return tx.view(), err
	}
	if res.err != nil {
		o.fail(tx, res.err)
		return tx.view(), res.err
	}
	if len(res.phones) == 0 {
		err := fmt.Errorf("portal listed no phone numbers")
		o.fail(tx, err)
		return tx.view(), err
	}

	tx.mu.Lock()
	tx.phoneOptions = res.phones
	ok := tx.advance(models.PhasePhoneOptionsListed, o.now())
	tx.busy = false
	tx.mu.Unlock()
	if !ok {
		return tx.view(), models.ErrPhaseTimeout
	}

	return tx.view(), nil
}

// SelectPhone drives PHONE_OPTIONS_LISTED to SMS_REQUESTED
func (o *LoginOrchestrator) SelectPhone(ctx context.Context, txID, phone string) (models.LoginTransactionView, error) {
	if err := models.ValidatePhone(phone); err != nil {
		return models.LoginTransactionView{}, err
	}
	tx, err := o.dispatch(txID, models.PhasePhoneOptionsListed, loginCommand{kind: cmdSelectPhone, arg: phone})
	if err != nil {
		return models.LoginTransactionView{}, err
	}

	res, err := o.await(ctx, tx, o.phaseTimeout)
	if err != nil {
		return tx.view(), err
	}
	if res.err != nil {
		o.fail(tx, res.err)
		return tx.view(), res.err
	}

	tx.mu.Lock()
	ok := tx.advance(models.PhaseSMSRequested, o.now())
	tx.busy = false
	tx.mu.Unlock()
	if !ok {
		return tx.view(), models.ErrPhaseTimeout
	}

	slog.Info("SMS code requested", "transaction_id", tx.id)
	return tx.view(), nil
}

// VerifyCode drives SMS_REQUESTED to AUTHENTICATED and persists the tokens.
// A code the portal rejects leaves the transaction in SMS_REQUESTED.
func (o *LoginOrchestrator) VerifyCode(ctx context.Context, txID, code string) (*models.PersistedSession, error) {
	if err := models.ValidateCode(code); err != nil {
		return nil, err
	}
	tx, err := o.dispatch(txID, models.PhaseSMSRequested, loginCommand{kind: cmdSubmitCode, arg: code})
	if err != nil {
		return nil, err
	}

	res, err := o.await(ctx, tx, o.phaseTimeout)
	if err != nil {
		return nil, err
	}
	if res.err != nil {
		if errors.Is(res.err, models.ErrValidation) {
			tx.mu.Lock()
			tx.busy = false
			tx.lastActivity = o.now()
			tx.mu.Unlock()
			return nil, res.err
		}
		o.fail(tx, res.err)
		return nil, res.err
	}
	if res.tokens.Empty() {
		err := fmt.Errorf("portal session carried no access token")
		o.fail(tx, err)
		return nil, err
	}

	unlock := o.locks.Lock(tx.owner)
	session := store.SaveBestEffort(ctx, o.store, tx.owner, res.tokens)
	unlock()

	tx.mu.Lock()
	tx.advance(models.PhaseAuthenticated, o.now())
	tx.busy = false
	tx.mu.Unlock()
	o.finish(tx)

	slog.Info("Login authenticated", "transaction_id", tx.id, "owner", logger.MaskOwner(tx.owner))
	return session, nil
}

// Status returns the current view of a live or recently finished transaction
func (o *LoginOrchestrator) Status(txID string) (models.LoginTransactionView, error) {
	o.mu.Lock()
	tx, ok := o.txs[txID]
	o.mu.Unlock()
	if ok {
		return tx.view(), nil
	}
	if v, ok := o.finished.Get(txID); ok {
		return v.(models.LoginTransactionView), nil
	}
	return models.LoginTransactionView{}, models.ErrTransactionNotFound
}

// Active returns the number of live transactions
func (o *LoginOrchestrator) Active() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.txs)
}

// Sweep expires idle transactions whose last activity is at least one phase
// timeout old. Transactions with a command in flight are left to their waiter.
func (o *LoginOrchestrator) Sweep() int {
	now := o.now()
	o.mu.Lock()
	var stale []*loginTx
	for _, tx := range o.txs {
		tx.mu.Lock()
		if !tx.busy && now.Sub(tx.lastActivity) >= o.phaseTimeout {
			stale = append(stale, tx)
		}
		tx.mu.Unlock()
	}
	o.mu.Unlock()

	for _, tx := range stale {
		o.expire(tx, "no activity within phase timeout")
	}
	return len(stale)
}

// RunSweeper calls Sweep every interval until ctx is done
func (o *LoginOrchestrator) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := o.Sweep(); n > 0 {
				slog.Info("Swept idle login transactions", "count", n)
			}
		}
	}
}

// Shutdown expires every live transaction and waits for workers to release
// their browsers, or for ctx to end.
func (o *LoginOrchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	live := make([]*loginTx, 0, len(o.txs))
	for _, tx := range o.txs {
		live = append(live, tx)
	}
	o.mu.Unlock()

	for _, tx := range live {
		o.expire(tx, "gateway shutting down")
	}

	done := make(chan struct{})
	go func() {
		o.workers.Wait()
		close(done)
	}()
	select {
	case <-done:
		o.finished.Close()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// dispatch checks the phase, marks the transaction busy and queues cmd
func (o *LoginOrchestrator) dispatch(txID string, want models.Phase, cmd loginCommand) (*loginTx, error) {
	o.mu.Lock()
	tx, ok := o.txs[txID]
	o.mu.Unlock()
	if !ok {
		return nil, models.ErrTransactionNotFound
	}

	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.phase != want {
		return nil, fmt.Errorf("%w: transaction is %s", models.ErrInvalidPhase, tx.phase)
	}
	if tx.busy {
		return nil, fmt.Errorf("%w: a command is already in progress", models.ErrInvalidPhase)
	}
	tx.busy = true
	tx.lastActivity = o.now()

	select {
	case tx.cmds <- cmd:
		return tx, nil
	default:
		tx.busy = false
		return nil, fmt.Errorf("%w: worker not accepting commands", models.ErrInvalidPhase)
	}
}

// await blocks for the worker's result up to timeout. Expiry tears down the
// transaction; the step still running in the worker is abandoned.
func (o *LoginOrchestrator) await(ctx context.Context, tx *loginTx, timeout time.Duration) (loginResult, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-tx.results:
		return res, nil
	case <-timer.C:
		o.expire(tx, "worker did not answer within phase timeout")
		return loginResult{}, models.ErrPhaseTimeout
	case <-tx.done:
		// The worker may have queued a result just before exiting
		select {
		case res := <-tx.results:
			return res, nil
		default:
		}
		if tx.view().Phase == models.PhaseExpired {
			return loginResult{}, models.ErrPhaseTimeout
		}
		return loginResult{}, fmt.Errorf("login worker exited")
	case <-ctx.Done():
		o.expire(tx, "caller went away")
		return loginResult{}, ctx.Err()
	}
}

// run is the worker. It owns the automation session and releases it on
// every exit path.
func (o *LoginOrchestrator) run(ctx context.Context, tx *loginTx) {
	defer o.workers.Done()
	defer close(tx.done)

	var session AutomationSession
	defer func() {
		if session != nil {
			if err := session.Close(); err != nil {
				slog.Warn("Failed to release automation session", "transaction_id", tx.id, "error", err)
			}
		}
	}()

	res := safeStep(func() loginResult {
		s, phones, err := o.automation.Start(ctx, tx.owner)
		session = s
		return loginResult{phones: phones, err: err}
	})
	tx.results <- res
	if res.err != nil {
		return
	}

	idle := time.NewTimer(o.phaseTimeout)
	defer idle.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-idle.C:
			o.expire(tx, "no command within phase timeout")
			return
		case cmd := <-tx.cmds:
			var res loginResult
			switch cmd.kind {
			case cmdSelectPhone:
				res = safeStep(func() loginResult {
					return loginResult{err: session.SelectPhone(ctx, cmd.arg)}
				})
			case cmdSubmitCode:
				res = safeStep(func() loginResult {
					tokens, err := session.SubmitCode(ctx, cmd.arg)
					return loginResult{tokens: tokens, err: err}
				})
			}
			tx.results <- res

			if cmd.kind == cmdSubmitCode && res.err == nil {
				return
			}
			if res.err != nil && !errors.Is(res.err, models.ErrValidation) {
				return
			}
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(o.phaseTimeout)
		}
	}
}

// safeStep turns a panic inside an automation step into an error result
func safeStep(step func() loginResult) (res loginResult) {
	defer func() {
		if r := recover(); r != nil {
			res = loginResult{err: fmt.Errorf("automation step panicked: %v", r)}
		}
	}()
	return step()
}

func (o *LoginOrchestrator) fail(tx *loginTx, cause error) {
	o.terminate(tx, models.PhaseFailed, cause.Error())
	level := slog.LevelWarn
	if errors.Is(cause, models.ErrPortalBlocked) {
		level = slog.LevelError
	}
	slog.Log(context.Background(), level, "Login failed", "transaction_id", tx.id, "error", cause)
}

func (o *LoginOrchestrator) expire(tx *loginTx, reason string) {
	if o.terminate(tx, models.PhaseExpired, reason) {
		slog.Warn("Login expired", "transaction_id", tx.id, "reason", reason)
	}
}

// terminate moves tx to a terminal phase, stops its worker and unregisters it.
// Returns false when tx was already terminal.
func (o *LoginOrchestrator) terminate(tx *loginTx, phase models.Phase, diagnostic string) bool {
	tx.mu.Lock()
	ok := tx.advance(phase, o.now())
	if ok {
		tx.diagnostic = diagnostic
		tx.busy = false
	}
	tx.mu.Unlock()
	if !ok {
		return false
	}
	o.finish(tx)
	return true
}

// finish unregisters a terminal transaction and cancels its worker
func (o *LoginOrchestrator) finish(tx *loginTx) {
	if tx.cancel != nil {
		tx.cancel()
	}
	o.mu.Lock()
	delete(o.txs, tx.id)
	if o.owners[tx.owner] == tx.id {
		delete(o.owners, tx.owner)
	}
	o.mu.Unlock()
	o.finished.Set(tx.id, tx.view())
}
