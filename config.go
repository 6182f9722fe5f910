package safeauth

import (
	"fmt"

	"github.com/BurntSushi/toml"
	"github.com/ethereum/go-ethereum/common"

	"github.com/gnosiskit/go-safe-authenticator/pkg/types"
)

// ChainConfig bundles the per-network endpoints and contract addresses.
type ChainConfig struct {
	ChainID                   int64
	RPCURL                    string
	TransactionServiceURL     string
	InstantTransferServiceURL string
	AllowanceModule           common.Address
	MultiSend                 common.Address
	// AllowanceLogStart is the fromBlock used when querying the allowance
	// module's execution logs; the module did not exist before it.
	AllowanceLogStart string
}

var mainnetConfig = ChainConfig{
	ChainID:                   1,
	RPCURL:                    "https://mainnet.infura.io/v3/",
	TransactionServiceURL:     "https://safe-transaction.mainnet.gnosis.io",
	InstantTransferServiceURL: "https://safe-instant-transfer.mainnet.gnosis.io",
	AllowanceModule:           common.HexToAddress("0xCFbFaC74C26F8647cBDb8c5caf80BB5b32E43134"),
	MultiSend:                 common.HexToAddress("0x8D29bE29923b68abfDD21e541b9374737B49cdAD"),
	AllowanceLogStart:         "0x8A61C8",
}

var rinkebyConfig = ChainConfig{
	ChainID:                   4,
	RPCURL:                    "https://rinkeby.infura.io/v3/",
	TransactionServiceURL:     "https://safe-transaction.rinkeby.gnosis.io",
	InstantTransferServiceURL: "https://safe-instant-transfer.rinkeby.gnosis.io",
	AllowanceModule:           common.HexToAddress("0xCFbFaC74C26F8647cBDb8c5caf80BB5b32E43134"),
	MultiSend:                 common.HexToAddress("0x8D29bE29923b68abfDD21e541b9374737B49cdAD"),
	AllowanceLogStart:         "0x53EC60",
}

// GetChainConfig returns the built-in configuration for a supported chain.
func GetChainConfig(chainID int64) (ChainConfig, error) {
	switch chainID {
	case 1:
		return mainnetConfig, nil
	case 4:
		return rinkebyConfig, nil
	default:
		return ChainConfig{}, types.ErrConfigUnsupported
	}
}

// IsValid reports whether the config carries everything the engine needs.
func (c ChainConfig) IsValid() bool {
	return c.RPCURL != "" &&
		c.TransactionServiceURL != "" &&
		c.AllowanceModule != types.ZeroAddress &&
		c.MultiSend != types.ZeroAddress
}

type chainConfigFile struct {
	ChainID                   int64  `toml:"chain_id"`
	RPCURL                    string `toml:"rpc_url"`
	TransactionServiceURL     string `toml:"transaction_service_url"`
	InstantTransferServiceURL string `toml:"instant_transfer_service_url"`
	AllowanceModule           string `toml:"allowance_module"`
	MultiSend                 string `toml:"multi_send"`
	AllowanceLogStart         string `toml:"allowance_log_start"`
}

// LoadChainConfig reads a TOML overlay and applies it on top of the built-in
// defaults for its chain id. Absent fields keep their defaults.
func LoadChainConfig(path string) (ChainConfig, error) {
	var file chainConfigFile
	if _, err := toml.DecodeFile(path, &file); err != nil {
		return ChainConfig{}, fmt.Errorf("read chain config: %w", err)
	}
	cfg, err := GetChainConfig(file.ChainID)
	if err != nil {
		return ChainConfig{}, fmt.Errorf("chain %d: %w", file.ChainID, err)
	}
	if file.RPCURL != "" {
		cfg.RPCURL = file.RPCURL
	}
	if file.TransactionServiceURL != "" {
		cfg.TransactionServiceURL = file.TransactionServiceURL
	}
	if file.InstantTransferServiceURL != "" {
		cfg.InstantTransferServiceURL = file.InstantTransferServiceURL
	}
	if file.AllowanceModule != "" {
		if !common.IsHexAddress(file.AllowanceModule) {
			return ChainConfig{}, types.NewValidationError("allowance_module", "not a hex address")
		}
		cfg.AllowanceModule = common.HexToAddress(file.AllowanceModule)
	}
	if file.MultiSend != "" {
		if !common.IsHexAddress(file.MultiSend) {
			return ChainConfig{}, types.NewValidationError("multi_send", "not a hex address")
		}
		cfg.MultiSend = common.HexToAddress(file.MultiSend)
	}
	if file.AllowanceLogStart != "" {
		cfg.AllowanceLogStart = file.AllowanceLogStart
	}
	return cfg, nil
}
