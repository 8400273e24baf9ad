package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"golang.org/x/term"

	"mystra/crypto"
	"mystra/rpc"
)

type cliConfig struct {
	endpoint string
	token    string
	caller   string
}

func defaultConfig() cliConfig {
	cfg := cliConfig{
		endpoint: "http://localhost:8547/rpc",
		token:    strings.TrimSpace(os.Getenv("MYSTRA_RPC_TOKEN")),
		caller:   strings.TrimSpace(os.Getenv("MYSTRA_CALLER")),
	}
	if v := strings.TrimSpace(os.Getenv("MYSTRA_RPC_URL")); v != "" {
		cfg.endpoint = v
	}
	return cfg
}

func main() {
	cfg, args, err := applyGlobalFlags(defaultConfig(), os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if len(args) < 1 {
		printUsage(os.Stdout)
		return
	}
	out, err := dispatch(cfg, args)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
	fmt.Println(out)
}

func applyGlobalFlags(cfg cliConfig, args []string) (cliConfig, []string, error) {
	out := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		arg := args[i]
		name, value, hasValue := strings.Cut(arg, "=")
		switch name {
		case "--rpc", "--token", "--caller":
		default:
			out = append(out, arg)
			continue
		}
		if !hasValue {
			if i+1 >= len(args) {
				return cfg, nil, fmt.Errorf("missing value for %s", name)
			}
			value = args[i+1]
			i++
		}
		switch name {
		case "--rpc":
			cfg.endpoint = value
		case "--token":
			cfg.token = value
		case "--caller":
			cfg.caller = value
		}
	}
	return cfg, out, nil
}

// dispatch runs one command and returns its printable output.
func dispatch(cfg cliConfig, args []string) (string, error) {
	command, rest := args[0], args[1:]
	switch command {
	case "token":
		return issueToken(rest)
	case "call":
		if len(rest) < 1 {
			return "", fmt.Errorf("usage: call <entry_point> [name=value ...]")
		}
		named, err := parseNamedArgs(rest[1:])
		if err != nil {
			return "", err
		}
		return callRPC(cfg, "market_call", map[string]interface{}{"entryPoint": rest[0], "args": named})
	case "listing", "auction", "owner":
		if len(rest) != 2 {
			return "", fmt.Errorf("usage: %s <contract_hash> <token_id>", command)
		}
		method := map[string]string{"listing": "market_getListing", "auction": "market_getAuction", "owner": "nft_ownerOf"}[command]
		return callRPC(cfg, method, map[string]string{"contractHash": rest[0], "tokenId": rest[1]})
	case "offer":
		if len(rest) != 3 {
			return "", fmt.Errorf("usage: offer <contract_hash> <token_id> <offerer>")
		}
		return callRPC(cfg, "market_getOffer", map[string]string{"contractHash": rest[0], "tokenId": rest[1], "offerer": rest[2]})
	case "balance":
		if len(rest) != 1 {
			return "", fmt.Errorf("usage: balance <purse|identity>")
		}
		key := "identity"
		if strings.HasPrefix(rest[0], "uref-") {
			key = "purse"
		}
		return callRPC(cfg, "bank_balance", map[string]string{key: rest[0]})
	case "vaults":
		return callRPC(cfg, "market_vaults", nil)
	case "events":
		named, err := parseNamedArgs(rest)
		if err != nil {
			return "", err
		}
		return callRPC(cfg, "market_events", named)
	case "dev":
		return devCommand(cfg, rest)
	default:
		return "", fmt.Errorf("unknown command %q", command)
	}
}

func devCommand(cfg cliConfig, args []string) (string, error) {
	if len(args) < 1 {
		return "", fmt.Errorf("usage: dev <mint|approve|purse|fund> ...")
	}
	switch args[0] {
	case "mint", "approve":
		if len(args) != 3 {
			return "", fmt.Errorf("usage: dev %s <contract_hash> <token_id>", args[0])
		}
		return callRPC(cfg, "dev_"+args[0], map[string]string{"contractHash": args[1], "tokenId": args[2]})
	case "purse":
		return callRPC(cfg, "dev_createPurse", nil)
	case "fund":
		if len(args) != 3 {
			return "", fmt.Errorf("usage: dev fund <purse> <amount>")
		}
		return callRPC(cfg, "dev_fund", map[string]string{"purse": args[1], "amount": args[2]})
	default:
		return "", fmt.Errorf("unknown dev command %q", args[0])
	}
}

func issueToken(args []string) (string, error) {
	named, err := parseNamedArgs(args)
	if err != nil {
		return "", err
	}
	caller, err := crypto.ParseIdentity(named["caller"])
	if err != nil {
		return "", fmt.Errorf("caller: %w", err)
	}
	secret := named["secret"]
	if secret == "" {
		if secret, err = readSecret("MYSTRA_JWT_SECRET"); err != nil {
			return "", err
		}
	}
	ttl := time.Hour
	if raw := named["ttl"]; raw != "" {
		if ttl, err = time.ParseDuration(raw); err != nil {
			return "", fmt.Errorf("ttl: %w", err)
		}
	}
	issuer := named["issuer"]
	if issuer == "" {
		issuer = "mystra"
	}
	return rpc.IssueToken(secret, issuer, caller, ttl, time.Now())
}

// readSecret resolves the signing secret from envVar, prompting on the
// terminal when the variable is unset.
func readSecret(envVar string) (string, error) {
	if value, ok := os.LookupEnv(envVar); ok {
		if strings.TrimSpace(value) == "" {
			return "", fmt.Errorf("%s is set but empty", envVar)
		}
		return value, nil
	}
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return "", fmt.Errorf("signing secret required; pass secret=... or set %s", envVar)
	}
	fmt.Fprint(os.Stderr, "Enter JWT signing secret: ")
	raw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("read secret: %w", err)
	}
	if strings.TrimSpace(string(raw)) == "" {
		return "", fmt.Errorf("signing secret cannot be empty")
	}
	return string(raw), nil
}

func parseNamedArgs(args []string) (map[string]string, error) {
	out := make(map[string]string, len(args))
	for _, arg := range args {
		name, value, ok := strings.Cut(arg, "=")
		if !ok || strings.TrimSpace(name) == "" {
			return nil, fmt.Errorf("argument %q must be name=value", arg)
		}
		out[strings.TrimSpace(name)] = value
	}
	return out, nil
}

func callRPC(cfg cliConfig, method string, params interface{}) (string, error) {
	req := map[string]interface{}{"jsonrpc": "2.0", "id": 1, "method": method}
	if params != nil {
		req["params"] = []interface{}{params}
	}
	body, err := json.Marshal(req)
	if err != nil {
		return "", err
	}
	httpReq, err := http.NewRequest(http.MethodPost, cfg.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if cfg.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+cfg.token)
	} else if cfg.caller != "" {
		httpReq.Header.Set(rpc.DevCallerHeader, cfg.caller)
	}
	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(httpReq)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	var decoded struct {
		Result json.RawMessage `json:"result"`
		Error  *rpc.RPCError   `json:"error"`
	}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return "", fmt.Errorf("decode response (%s): %w", resp.Status, err)
	}
	if decoded.Error != nil {
		return "", fmt.Errorf("rpc error %d: %s", decoded.Error.Code, decoded.Error.Message)
	}
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, decoded.Result, "", "  "); err != nil {
		return string(decoded.Result), nil
	}
	return pretty.String(), nil
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "Usage: market-cli [--rpc URL] [--token JWT | --caller IDENTITY] <command> [arguments]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  call <entry_point> [name=value ...]   - Invokes a marketplace entry point")
	fmt.Fprintln(w, "  listing <contract_hash> <token_id>     - Shows the listing slot of an asset")
	fmt.Fprintln(w, "  offer <contract_hash> <token_id> <id>  - Shows an offer slot")
	fmt.Fprintln(w, "  auction <contract_hash> <token_id>     - Shows the auction slot of an asset")
	fmt.Fprintln(w, "  owner <contract_hash> <token_id>       - Shows the owner of an asset")
	fmt.Fprintln(w, "  balance <purse|identity>               - Shows a balance")
	fmt.Fprintln(w, "  vaults                                 - Shows the custody purses")
	fmt.Fprintln(w, "  events [type=...] [tokenId=...]        - Lists indexed events, newest first")
	fmt.Fprintln(w, "  token caller=<id> [secret=..] [ttl=1h] - Issues a bearer token")
	fmt.Fprintln(w, "  dev <mint|approve|purse|fund> ...      - Devnet helpers")
}
