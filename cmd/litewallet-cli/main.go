// litewallet-cli is a command-line client for the litewallet core: wallet
// operations against Electrum peers plus block-explorer queries.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"
	"time"

	"golang.org/x/term"

	"github.com/litewallet-org/litewallet-core/config"
	"github.com/litewallet-org/litewallet-core/internal/electrum"
	"github.com/litewallet-org/litewallet-core/internal/explorer"
	"github.com/litewallet-org/litewallet-core/internal/log"
	"github.com/litewallet-org/litewallet-core/internal/wallet"
	"github.com/litewallet-org/litewallet-core/pkg/codec"
	"github.com/litewallet-org/litewallet-core/pkg/types"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	// Parse global flags that appear before the subcommand.
	network := "mainnet"
	serverList := ""
	logLevel := "warn"

	args := os.Args[1:]
	for len(args) > 0 {
		switch {
		case args[0] == "--network" && len(args) > 1:
			network = args[1]
			args = args[2:]
		case strings.HasPrefix(args[0], "--network="):
			network = args[0][len("--network="):]
			args = args[1:]
		case args[0] == "--servers" && len(args) > 1:
			serverList = args[1]
			args = args[2:]
		case strings.HasPrefix(args[0], "--servers="):
			serverList = args[0][len("--servers="):]
			args = args[1:]
		case args[0] == "--log-level" && len(args) > 1:
			logLevel = args[1]
			args = args[2:]
		case strings.HasPrefix(args[0], "--log-level="):
			logLevel = args[0][len("--log-level="):]
			args = args[1:]
		default:
			goto dispatch
		}
	}

dispatch:
	if len(args) == 0 {
		usage()
		os.Exit(1)
	}

	cfg := config.Default(config.NetworkType(network))
	if serverList != "" {
		cfg.Servers = config.ParseServerList(serverList)
	}
	cfg.Log.Level = logLevel
	if err := cfg.Validate(); err != nil {
		fatal("config: %v", err)
	}
	log.Init(cfg.Log.Level, cfg.Log.JSON)

	cmd := args[0]
	cmdArgs := args[1:]

	switch cmd {
	case "create":
		cmdCreate(cfg)
	case "address":
		cmdAddress(cfg, cmdArgs)
	case "balance":
		cmdBalance(cfg, cmdArgs)
	case "send":
		cmdSend(cfg, cmdArgs)
	case "estimate":
		cmdEstimate(cfg, cmdArgs)
	case "block":
		cmdBlock(cfg, cmdArgs)
	case "tx":
		cmdTx(cfg, cmdArgs)
	case "latest":
		cmdLatest(cfg, cmdArgs)
	case "stats":
		cmdStats(cfg)
	case "help", "--help", "-h":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: litewallet-cli [global flags] <command> [flags]

Global flags:
  --network <net>     mainnet (default) or testnet
  --servers <list>    Comma-separated ssl:// Electrum endpoints
  --log-level <lvl>   trace|debug|info|warn|error (default: warn)

Commands:
  create                          Generate a new wallet (prints the mnemonic once)
  address                         Show the receive address for a secret
  balance [address]               Show balance for an address, or prompt for a secret
  send --to <addr> --amount <amt> [--subtract-fee]
                                  Send coins (prompts for the wallet secret)
  estimate --to <addr> --amount <amt> [--subtract-fee]
                                  Dry-run fee estimate for a send
  block <hash|height>             Show block details
  tx <hash>                       Show transaction details
  latest [--blocks n] [--txs n]   Show recent blocks and transactions
  stats                           Show network statistics
`)
}

// connect builds and connects an Electrum client for the configured
// network. The caller owns the returned client.
func connect(cfg *config.Config) *electrum.Client {
	client := electrum.New(electrum.Options{
		Servers:        cfg.Servers,
		ConnectTimeout: cfg.ConnectTimeout,
		CallTimeout:    cfg.CallTimeout,
		PingInterval:   cfg.PingInterval,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := client.Connect(ctx); err != nil {
		fatal("connect: %v", err)
	}
	return client
}

// openSession prompts for the wallet secret and password and returns an
// unlocked session. The secret never touches argv or the environment.
func openSession(cfg *config.Config, client *electrum.Client) *wallet.Session {
	secret, err := readPassword("Mnemonic or private key: ")
	if err != nil {
		fatal("read secret: %v", err)
	}
	password, err := readPassword("Session password: ")
	if err != nil {
		fatal("read password: %v", err)
	}

	session := wallet.NewSession(cfg, client)
	text := strings.TrimSpace(string(secret))
	if strings.Contains(text, " ") {
		err = session.ImportFromMnemonic(text, string(password))
	} else {
		err = session.ImportFromPrivateKey(text, string(password))
	}
	if err != nil {
		fatal("import wallet: %v", err)
	}
	return session
}

// ── create ──────────────────────────────────────────────────────────────

func cmdCreate(cfg *config.Config) {
	password, err := readPassword("New session password: ")
	if err != nil {
		fatal("read password: %v", err)
	}
	confirm, err := readPassword("Confirm password: ")
	if err != nil {
		fatal("read password: %v", err)
	}
	if string(password) != string(confirm) {
		fatal("passwords do not match")
	}

	client := connect(cfg)
	defer client.Close()

	session := wallet.NewSession(cfg, client)
	mnemonic, err := session.CreateWallet(string(password))
	if err != nil {
		fatal("create wallet: %v", err)
	}
	addr, err := session.GetReceiveAddress()
	if err != nil {
		fatal("derive address: %v", err)
	}

	fmt.Println("Write down the recovery phrase. It is shown exactly once.")
	fmt.Printf("\n  %s\n\n", mnemonic)
	fmt.Printf("Address: %s\n", addr)
}

// ── address ─────────────────────────────────────────────────────────────

func cmdAddress(cfg *config.Config, args []string) {
	if len(args) != 0 {
		fatal("Usage: litewallet-cli address")
	}
	client := connect(cfg)
	defer client.Close()

	session := openSession(cfg, client)
	addr, err := session.GetReceiveAddress()
	if err != nil {
		fatal("derive address: %v", err)
	}
	fmt.Println(addr)
}

// ── balance ─────────────────────────────────────────────────────────────

func cmdBalance(cfg *config.Config, args []string) {
	client := connect(cfg)
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.CallTimeout)
	defer cancel()

	// With an address argument no secret is needed.
	if len(args) == 1 {
		facade := explorer.New(client, cfg.Params())
		info, err := facade.GetAddress(ctx, args[0])
		if err != nil {
			fatal("address lookup: %v", err)
		}
		fmt.Printf("Confirmed:   %s\n", types.FormatAmount(info.Confirmed))
		fmt.Printf("Unconfirmed: %s\n", types.FormatAmount(info.Unconfirmed))
		fmt.Printf("UTXOs:       %d\n", len(info.Utxos))
		fmt.Printf("History:     %d entries\n", len(info.History))
		return
	}

	session := openSession(cfg, client)
	balance, err := session.Balance(ctx)
	if err != nil {
		fatal("balance: %v", err)
	}
	fmt.Printf("Confirmed:   %s\n", types.FormatAmount(balance.Confirmed))
	fmt.Printf("Unconfirmed: %s\n", types.FormatAmount(balance.Unconfirmed))
}

// ── send ────────────────────────────────────────────────────────────────

func cmdSend(cfg *config.Config, args []string) {
	fs := flag.NewFlagSet("send", flag.ExitOnError)
	toAddr := fs.String("to", "", "Recipient address")
	amountStr := fs.String("amount", "", "Amount to send (e.g. 1.5)")
	subtractFee := fs.Bool("subtract-fee", false, "Deduct the fee from the amount")
	fs.Parse(args)

	if *toAddr == "" || *amountStr == "" {
		fatal("Usage: litewallet-cli send --to <addr> --amount <amt> [--subtract-fee]")
	}
	amount, err := types.ParseAmount(*amountStr)
	if err != nil {
		fatal("invalid amount: %v", err)
	}

	client := connect(cfg)
	defer client.Close()

	session := openSession(cfg, client)
	ctx, cancel := context.WithTimeout(context.Background(), 2*cfg.CallTimeout)
	defer cancel()

	result, err := session.Send(ctx, *toAddr, amount, *subtractFee)
	if err != nil {
		fatal("send: %v", err)
	}
	fmt.Printf("Submitted: %s\n", result.TxID)
	fmt.Printf("Fee:       %s\n", types.FormatAmount(result.Fee))
}

// ── estimate ────────────────────────────────────────────────────────────

func cmdEstimate(cfg *config.Config, args []string) {
	fs := flag.NewFlagSet("estimate", flag.ExitOnError)
	toAddr := fs.String("to", "", "Recipient address")
	amountStr := fs.String("amount", "", "Amount to send (e.g. 1.5)")
	subtractFee := fs.Bool("subtract-fee", false, "Deduct the fee from the amount")
	fs.Parse(args)

	if *toAddr == "" || *amountStr == "" {
		fatal("Usage: litewallet-cli estimate --to <addr> --amount <amt> [--subtract-fee]")
	}
	amount, err := types.ParseAmount(*amountStr)
	if err != nil {
		fatal("invalid amount: %v", err)
	}

	client := connect(cfg)
	defer client.Close()

	session := openSession(cfg, client)
	ctx, cancel := context.WithTimeout(context.Background(), 2*cfg.CallTimeout)
	defer cancel()

	feeRate, err := client.FeeRate(ctx, 2)
	if err != nil {
		fatal("fee rate: %v", err)
	}
	utxos, err := session.GetUtxos(ctx)
	if err != nil {
		fatal("fetch utxos: %v", err)
	}
	est, err := wallet.EstimateFee(amount, feeRate, utxos, *subtractFee)
	if err != nil {
		fatal("estimate: %v", err)
	}
	fmt.Printf("Fee rate:    %d sat/vB\n", feeRate)
	fmt.Printf("Fee:         %s\n", types.FormatAmount(est.EstimatedFee))
	fmt.Printf("Recipient:   %s\n", types.FormatAmount(est.ActualAmount))
	fmt.Printf("Total spent: %s\n", types.FormatAmount(est.TotalNeeded))
	fmt.Printf("Inputs:      %d\n", est.NumInputs)
}

// ── block ───────────────────────────────────────────────────────────────

func cmdBlock(cfg *config.Config, args []string) {
	if len(args) != 1 {
		fatal("Usage: litewallet-cli block <hash|height>")
	}

	client := connect(cfg)
	defer client.Close()
	facade := explorer.New(client, cfg.Params())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var (
		block *codec.Block
		err   error
	)
	if height, perr := strconv.ParseUint(args[0], 10, 64); perr == nil {
		block, err = facade.GetBlockByHeight(ctx, height)
	} else {
		hash, herr := types.HexToHash(args[0])
		if herr != nil {
			fatal("invalid block hash: %v", herr)
		}
		block, err = facade.GetBlockByHash(ctx, hash, nil)
	}
	if err != nil {
		fatal("block: %v", err)
	}

	fmt.Printf("Height:     %d\n", block.Height)
	fmt.Printf("Hash:       %s\n", block.Header.Hash)
	fmt.Printf("Prev:       %s\n", block.Header.PrevHash)
	fmt.Printf("Merkle:     %s\n", block.Header.MerkleRoot)
	fmt.Printf("Time:       %s\n", time.Unix(int64(block.Header.Timestamp), 0).UTC().Format(time.RFC3339))
	fmt.Printf("Difficulty: %.4f\n", codec.DifficultyFromBits(block.Header.Bits))
	fmt.Printf("Txs:        %d\n", block.TxCount)
	if block.MWEB != nil {
		fmt.Printf("MWEB:       %d kernels, %d outputs\n", block.MWEB.NumKernels, block.MWEB.NumTXOs)
	}
	for i, txid := range block.TxIDs {
		if i == 0 {
			fmt.Println("Transactions:")
		}
		fmt.Printf("  %s\n", txid)
	}
}

// ── tx ──────────────────────────────────────────────────────────────────

func cmdTx(cfg *config.Config, args []string) {
	if len(args) != 1 {
		fatal("Usage: litewallet-cli tx <hash>")
	}
	txid, err := types.HexToHash(args[0])
	if err != nil {
		fatal("invalid txid: %v", err)
	}

	client := connect(cfg)
	defer client.Close()
	facade := explorer.New(client, cfg.Params())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	tx, err := facade.GetTransaction(ctx, txid)
	if err != nil {
		fatal("tx: %v", err)
	}

	fmt.Printf("TxID:    %s\n", tx.TxID)
	fmt.Printf("Size:    %d bytes (vsize %d)\n", tx.Size, tx.VSize)
	if tx.HasMWEB {
		fmt.Println("MWEB:    yes")
	}
	if tx.Fee != nil {
		fmt.Printf("Fee:     %s\n", types.FormatAmount(*tx.Fee))
	}
	fmt.Printf("Inputs:  %d\n", len(tx.Inputs))
	for i := range tx.Inputs {
		in := &tx.Inputs[i]
		switch {
		case in.IsCoinbase():
			fmt.Println("  coinbase")
		case in.IsMWEB():
			fmt.Println("  mweb input")
		case in.Value != nil:
			fmt.Printf("  %s  %s\n", in.Address, types.FormatAmount(*in.Value))
		default:
			fmt.Printf("  %s\n", in.PrevOut)
		}
	}
	fmt.Printf("Outputs: %d\n", len(tx.Outputs))
	for i := range tx.Outputs {
		out := &tx.Outputs[i]
		addr := out.Address
		if addr == "" {
			addr = string(out.Type)
		}
		fmt.Printf("  %s  %s\n", addr, types.FormatAmount(out.Value))
	}
}

// ── latest ──────────────────────────────────────────────────────────────

func cmdLatest(cfg *config.Config, args []string) {
	fs := flag.NewFlagSet("latest", flag.ExitOnError)
	numBlocks := fs.Int("blocks", 5, "Number of recent blocks")
	numTxs := fs.Int("txs", 0, "Number of recent transactions")
	fs.Parse(args)

	client := connect(cfg)
	defer client.Close()
	facade := explorer.New(client, cfg.Params())

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	if *numBlocks > 0 {
		blocks, err := facade.GetLatestBlocks(ctx, *numBlocks)
		if err != nil {
			fatal("latest blocks: %v", err)
		}
		fmt.Println("Recent blocks:")
		for _, b := range blocks {
			fmt.Printf("  %8d  %s  %s\n", b.Height, b.Header.Hash,
				time.Unix(int64(b.Header.Timestamp), 0).UTC().Format(time.RFC3339))
		}
	}

	if *numTxs > 0 {
		txs, err := facade.GetLatestTransactions(ctx, *numTxs)
		if err != nil {
			fatal("latest transactions: %v", err)
		}
		fmt.Println("Recent transactions:")
		for _, tx := range txs {
			var total int64
			for i := range tx.Outputs {
				total += tx.Outputs[i].Value
			}
			fmt.Printf("  %s  %s\n", tx.TxID, types.FormatAmount(total))
		}
	}
}

// ── stats ───────────────────────────────────────────────────────────────

func cmdStats(cfg *config.Config) {
	client := connect(cfg)
	defer client.Close()
	facade := explorer.New(client, cfg.Params())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	stats, err := facade.GetNetworkStats(ctx)
	if err != nil {
		fatal("stats: %v", err)
	}
	fmt.Printf("Height:     %d\n", stats.Height)
	fmt.Printf("Difficulty: %.4f\n", stats.Difficulty)
	fmt.Printf("Hashrate:   %.2f GH/s\n", stats.Hashrate/1e9)
	fmt.Printf("Block time: %.0fs\n", stats.BlockTimeSec)
	fmt.Printf("Fee rate:   %d sat/vB\n", stats.FeeRate)
}

// ── Helpers ─────────────────────────────────────────────────────────────

func readPassword(prompt string) ([]byte, error) {
	fmt.Fprint(os.Stderr, prompt)
	password, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr) // newline after hidden input
	if err != nil {
		return nil, err
	}
	return password, nil
}

func fatal(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}
