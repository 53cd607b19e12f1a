package wallet

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/tyler-smith/go-bip39"

	"github.com/litewallet-org/litewallet-core/config"
	"github.com/litewallet-org/litewallet-core/internal/electrum"
	"github.com/litewallet-org/litewallet-core/internal/log"
	"github.com/litewallet-org/litewallet-core/internal/vault"
	"github.com/litewallet-org/litewallet-core/pkg/types"
)

// Session errors.
var (
	ErrLocked   = errors.New("wallet is locked")
	ErrNoWallet = errors.New("no wallet initialized")
)

// Session owns the single network context's mutable wallet state: the
// encrypted secret, the lockout tracker, and — only while unlocked — the
// derived signing keypair. The keypair and decrypted secret are never
// aliased outside the session and are scrubbed on lock.
type Session struct {
	mu      sync.Mutex
	cfg     *config.Config
	params  types.Params
	client  *electrum.Client
	lockout *vault.Lockout

	secret  *vault.EncryptedSecret
	pwHash  []byte
	pwSalt  []byte
	keypair *Keypair

	lastActivity time.Time
	now          func() time.Time // injectable for tests
}

// NewSession creates a session bound to one network's client.
func NewSession(cfg *config.Config, client *electrum.Client) *Session {
	return &Session{
		cfg:     cfg,
		params:  cfg.Params(),
		client:  client,
		lockout: vault.NewLockout(cfg.MaxUnlockTries, cfg.LockoutWindow),
		now:     time.Now,
	}
}

// CreateWallet generates a fresh mnemonic, initializes the vault with the
// password and leaves the session unlocked. The mnemonic is returned
// exactly once so the caller can present a backup prompt; it is not
// retained in plaintext anywhere.
func (s *Session) CreateWallet(password string) (string, error) {
	mnemonic, err := GenerateMnemonic()
	if err != nil {
		return "", err
	}
	if err := s.initWallet(mnemonic, password); err != nil {
		return "", err
	}
	return mnemonic, nil
}

// ImportFromMnemonic initializes the vault from an existing phrase.
func (s *Session) ImportFromMnemonic(words, password string) error {
	words = strings.TrimSpace(words)
	if !bip39.IsMnemonicValid(words) {
		return fmt.Errorf("invalid mnemonic")
	}
	return s.initWallet(words, password)
}

// ImportFromPrivateKey initializes the vault from a WIF or hex key.
func (s *Session) ImportFromPrivateKey(keyText, password string) error {
	keyText = strings.TrimSpace(keyText)
	// Reject garbage before it is sealed into the vault.
	if _, err := KeypairFromText(keyText, s.params); err != nil {
		return err
	}
	return s.initWallet(keyText, password)
}

// initWallet seals the secret under the password and unlocks the session.
func (s *Session) initWallet(secretText, password string) error {
	kp, err := keypairFromSecret(secretText, s.params)
	if err != nil {
		return err
	}
	hash, salt, err := vault.HashPassword(password, nil)
	if err != nil {
		return err
	}
	sealed, err := vault.Encrypt(secretText, password)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.keypair != nil {
		s.keypair.Zero()
	}
	s.secret = sealed
	s.pwHash = hash
	s.pwSalt = salt
	s.keypair = kp
	s.lastActivity = s.now()
	s.lockout.RecordSuccess()
	log.Wallet.Info().Str("address", kp.Address).Msg("wallet initialized")
	return nil
}

// keypairFromSecret dispatches on the secret's shape: phrases with spaces
// are mnemonics, anything else is a raw key.
func keypairFromSecret(secretText string, params types.Params) (*Keypair, error) {
	if strings.Contains(secretText, " ") {
		return KeypairFromMnemonic(secretText, params)
	}
	return KeypairFromText(secretText, params)
}

// Unlock verifies the password and re-derives the signing keypair. While
// locked out, attempts are rejected before any verification runs.
func (s *Session) Unlock(password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.secret == nil {
		return ErrNoWallet
	}
	if err := s.lockout.Begin(); err != nil {
		return err
	}

	if !vault.VerifyPassword(password, s.pwHash, s.pwSalt) {
		remaining := s.lockout.RecordFailure()
		if remaining == 0 {
			return fmt.Errorf("%w: locked out for %s",
				vault.ErrLockedOut, s.lockout.RemainingLockout().Round(time.Second))
		}
		return fmt.Errorf("wrong password (%d attempts remaining)", remaining)
	}

	secretText, err := vault.Decrypt(s.secret, password)
	if err != nil {
		// Verification passed but the blob would not open: corrupt data.
		s.lockout.RecordFailure()
		return err
	}
	kp, err := keypairFromSecret(secretText, s.params)
	if err != nil {
		return err
	}

	s.keypair = kp
	s.lastActivity = s.now()
	s.lockout.RecordSuccess()
	return nil
}

// Lock scrubs the keypair and decrypted material from memory. The
// encrypted blob is retained so the session resumes with the password.
func (s *Session) Lock() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lockLocked()
}

func (s *Session) lockLocked() {
	if s.keypair != nil {
		s.keypair.Zero()
		s.keypair = nil
	}
	s.lockout.Relock()
}

// State reports the lock state after applying the idle timeout.
func (s *Session) State() vault.LockState {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expireIdleLocked()
	return s.lockout.State()
}

// RemainingLockout is the user-facing wait time while locked out.
func (s *Session) RemainingLockout() time.Duration {
	return s.lockout.RemainingLockout()
}

// activeKeypair gates access on lock state and idle expiry and refreshes
// the activity timestamp.
func (s *Session) activeKeypair() (*Keypair, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeKeypairLocked()
}

// signingKeypair returns an independent copy of the active keypair. A
// Lock racing a slow build scrubs only the session's copy; the in-flight
// signing keeps intact material. The caller zeroes the copy when done.
func (s *Session) signingKeypair() (*Keypair, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kp, err := s.activeKeypairLocked()
	if err != nil {
		return nil, err
	}
	return kp.clone(), nil
}

// Caller holds s.mu.
func (s *Session) activeKeypairLocked() (*Keypair, error) {
	if s.secret == nil {
		return nil, ErrNoWallet
	}
	s.expireIdleLocked()
	if s.keypair == nil {
		return nil, ErrLocked
	}
	s.lastActivity = s.now()
	return s.keypair, nil
}

// expireIdleLocked autolocks after the configured idle window.
// Caller holds s.mu.
func (s *Session) expireIdleLocked() {
	if s.keypair == nil || s.cfg.IdleLockTimeout <= 0 {
		return
	}
	if s.now().Sub(s.lastActivity) >= s.cfg.IdleLockTimeout {
		log.Wallet.Info().Msg("idle timeout, locking wallet")
		s.lockLocked()
	}
}

// GetReceiveAddress returns the session's derived address.
func (s *Session) GetReceiveAddress() (string, error) {
	kp, err := s.activeKeypair()
	if err != nil {
		return "", err
	}
	return kp.Address, nil
}

// Balance fetches the confirmed/unconfirmed balance for the session
// address.
func (s *Session) Balance(ctx context.Context) (*electrum.Balance, error) {
	kp, err := s.activeKeypair()
	if err != nil {
		return nil, err
	}
	return s.client.ScripthashBalance(ctx, kp.ScriptHash)
}

// GetUtxos fetches a fresh UTXO snapshot for the session address.
func (s *Session) GetUtxos(ctx context.Context) ([]UTXO, error) {
	kp, err := s.activeKeypair()
	if err != nil {
		return nil, err
	}
	raw, err := s.client.ListUnspent(ctx, kp.ScriptHash)
	if err != nil {
		return nil, err
	}
	utxos := make([]UTXO, 0, len(raw))
	for _, u := range raw {
		txid, err := types.HexToHash(u.TxHash)
		if err != nil {
			continue
		}
		utxos = append(utxos, UTXO{
			Outpoint: types.Outpoint{TxID: txid, Index: u.TxPos},
			Value:    u.Value,
		})
	}
	return utxos, nil
}

// SendResult reports a broadcast transaction.
type SendResult struct {
	TxID string
	Fee  int64
}

// Send builds, signs and broadcasts a payment. The UTXO set is fetched
// immediately before building so already-consumed outputs are never
// re-spent from a stale snapshot.
func (s *Session) Send(ctx context.Context, toAddress string, amount int64, includeFee bool) (*SendResult, error) {
	kp, err := s.signingKeypair()
	if err != nil {
		return nil, err
	}
	defer kp.Zero()

	feeRate, err := s.client.FeeRate(ctx, 2)
	if err != nil {
		return nil, fmt.Errorf("fee rate: %w", err)
	}
	utxos, err := s.GetUtxos(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch utxos: %w", err)
	}

	signed, err := BuildAndSignTx(BuildParams{
		To:         toAddress,
		Amount:     amount,
		FeeRate:    feeRate,
		IncludeFee: includeFee,
		Utxos:      utxos,
		Keypair:    kp,
		Params:     s.params,
	})
	if err != nil {
		return nil, err
	}

	txid, err := s.client.Broadcast(ctx, signed.Hex)
	if err != nil {
		return nil, fmt.Errorf("broadcast: %w", err)
	}
	log.Wallet.Info().Str("txid", txid).Int64("fee", signed.Fee).Msg("transaction broadcast")
	return &SendResult{TxID: txid, Fee: signed.Fee}, nil
}

// SubscribeChanges registers for balance/history notifications on the
// session address.
func (s *Session) SubscribeChanges(ctx context.Context, onChange func(status string)) error {
	kp, err := s.activeKeypair()
	if err != nil {
		return err
	}
	_, err = s.client.SubscribeScripthash(ctx, kp.ScriptHash, func(_, status string) {
		onChange(status)
	})
	return err
}
