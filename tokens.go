package safeauth

import (
	"context"
	"encoding/hex"
	"fmt"
	"math/big"
	"net/http"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/gnosiskit/go-safe-authenticator/internal/utils"
	"github.com/gnosiskit/go-safe-authenticator/pkg/logger"
	"github.com/gnosiskit/go-safe-authenticator/pkg/store"
	"github.com/gnosiskit/go-safe-authenticator/pkg/types"
)

// ERC20 method selectors recognized by BuildTransactionInfo.
const (
	erc20TransferSelector = "a9059cbb"
	erc20ApproveSelector  = "095ea7b3"
)

// LoadTokenInfo resolves token display metadata. The zero address is the
// native asset. Cached entries written before this process started are
// treated as stale and refreshed from the transaction service; if the
// refresh fails the stale entry is still served.
func (c *Client) LoadTokenInfo(ctx context.Context, token common.Address) (types.TokenInfo, error) {
	if token == types.ZeroAddress {
		return types.EtherTokenInfo, nil
	}

	var cached *store.CachedTokenInfo
	if c.tokenCache != nil {
		var err error
		cached, err = c.tokenCache.GetTokenInfo(token)
		if err != nil {
			logger.Warn("token cache read for %s failed: %v", token.Hex(), err)
			cached = nil
		}
		if cached != nil && cached.UpdatedAt >= c.startedAt {
			return cachedToTokenInfo(*cached), nil
		}
	}

	var wire types.ServiceTokenInfo
	err := c.txService(ctx, http.MethodGet, fmt.Sprintf(TokenInfoEndpoint, token.Hex()), nil, &wire)
	if err != nil {
		if cached != nil {
			logger.Debug("serving stale metadata for %s: %v", token.Hex(), err)
			return cachedToTokenInfo(*cached), nil
		}
		return types.TokenInfo{}, err
	}

	info := types.TokenInfo{
		Address:  token,
		Symbol:   wire.Symbol,
		Decimals: wire.Decimals,
		Name:     wire.Name,
		Icon:     types.RemoteIcon(wire.LogoURI),
	}
	if c.tokenCache != nil {
		err := c.tokenCache.PutTokenInfo(store.CachedTokenInfo{
			Address:   token,
			Symbol:    wire.Symbol,
			Name:      wire.Name,
			Decimals:  wire.Decimals,
			LogoURI:   wire.LogoURI,
			UpdatedAt: time.Now().UnixMilli(),
		})
		if err != nil {
			logger.Warn("token cache write for %s failed: %v", token.Hex(), err)
		}
	}
	return info, nil
}

func cachedToTokenInfo(c store.CachedTokenInfo) types.TokenInfo {
	return types.TokenInfo{
		Address:  c.Address,
		Symbol:   c.Symbol,
		Decimals: c.Decimals,
		Name:     c.Name,
		Icon:     types.RemoteIcon(c.LogoURI),
	}
}

// LoadTokenBalances fetches the Safe's asset balances from the transaction
// service. Token metadata is resolved concurrently; a missing metadata entry
// does not drop the balance row.
func (c *Client) LoadTokenBalances(ctx context.Context, safe common.Address) ([]types.TokenBalance, []types.TokenInfo, error) {
	var wire []types.ServiceBalance
	err := c.txService(ctx, http.MethodGet, fmt.Sprintf(BalancesEndpoint, safe.Hex()), nil, &wire)
	if err != nil {
		return nil, nil, err
	}

	balances := make([]types.TokenBalance, 0, len(wire))
	for _, b := range wire {
		token := types.ZeroAddress
		if b.TokenAddress != "" {
			token = common.HexToAddress(b.TokenAddress)
		}
		balance, err := utils.ParseBigInt(b.Balance)
		if err != nil {
			return nil, nil, types.NewMalformedResponseError("balance for %s: %v", b.TokenAddress, err)
		}
		balances = append(balances, types.TokenBalance{Token: token, Balance: balance})
	}

	infos := make([]types.TokenInfo, len(balances))
	var wg sync.WaitGroup
	for i := range balances {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			info, err := c.LoadTokenInfo(ctx, balances[i].Token)
			if err != nil {
				logger.Debug("token info for %s unavailable: %v", balances[i].Token.Hex(), err)
				info = types.TokenInfo{Address: balances[i].Token, Symbol: "???", Decimals: 0}
			}
			infos[i] = info
		}(i)
	}
	wg.Wait()
	return balances, infos, nil
}

// BuildTransactionInfo classifies a Safe transaction for display. It
// recognizes self-calls (settings changes and cancels), ERC20 transfers and
// approvals, and plain ether transfers; anything else is a generic contract
// interaction.
func (c *Client) BuildTransactionInfo(ctx context.Context, safe common.Address, tx types.SafeTx, exec types.SafeTxExecInfo) types.TransactionInfo {
	value := big.NewInt(0)
	if tx.Value != nil {
		value = tx.Value
	}

	if tx.To == safe {
		if len(tx.Data) == 0 && value.Sign() == 0 {
			return types.TransactionInfo{
				Recipient:      tx.To,
				RecipientLabel: utils.ShortChecksum(tx.To, 4),
				AssetIcon:      types.AssetIcon{Kind: types.IconSettings},
				AssetLabel:     "Cancel transaction",
				AdditionalInfo: fmt.Sprintf("nonce %s", exec.Nonce),
			}
		}
		return types.TransactionInfo{
			Recipient:      tx.To,
			RecipientLabel: utils.ShortChecksum(tx.To, 4),
			AssetIcon:      types.AssetIcon{Kind: types.IconSettings},
			AssetLabel:     "Settings change",
		}
	}

	if selector, args, ok := splitCallData(tx.Data); ok && value.Sign() == 0 {
		switch selector {
		case erc20TransferSelector:
			to := common.BytesToAddress(args[12:32])
			amount := new(big.Int).SetBytes(args[32:64])
			info := c.tokenInfoOrNil(ctx, tx.To)
			return types.TransactionInfo{
				Recipient:      to,
				RecipientLabel: utils.ShortChecksum(to, 4),
				AssetIcon:      tokenIcon(info),
				AssetLabel:     tokenAmountLabel(info, amount),
			}
		case erc20ApproveSelector:
			spender := common.BytesToAddress(args[12:32])
			amount := new(big.Int).SetBytes(args[32:64])
			info := c.tokenInfoOrNil(ctx, tx.To)
			return types.TransactionInfo{
				Recipient:      spender,
				RecipientLabel: utils.ShortChecksum(spender, 4),
				AssetIcon:      tokenIcon(info),
				AssetLabel:     fmt.Sprintf("Approve %s", tokenAmountLabel(info, amount)),
			}
		}
	}

	if len(tx.Data) == 0 {
		return types.TransactionInfo{
			Recipient:      tx.To,
			RecipientLabel: utils.ShortChecksum(tx.To, 4),
			AssetIcon:      types.AssetIcon{Kind: types.IconEther},
			AssetLabel:     fmt.Sprintf("%s ETH", utils.ShiftedString(value, 18)),
		}
	}

	return types.TransactionInfo{
		Recipient:      tx.To,
		RecipientLabel: utils.ShortChecksum(tx.To, 4),
		AssetIcon:      types.AssetIcon{Kind: types.IconNone},
		AssetLabel:     "Contract interaction",
		AdditionalInfo: fmt.Sprintf("%s ETH / %d bytes", utils.ShiftedString(value, 18), len(tx.Data)),
	}
}

// splitCallData splits calldata into a hex selector and its two 32-byte
// arguments. Only the exact two-argument layout used by transfer and approve
// is accepted.
func splitCallData(data []byte) (string, []byte, bool) {
	if len(data) != 4+64 {
		return "", nil, false
	}
	return hex.EncodeToString(data[:4]), data[4:], true
}

func tokenIcon(info *types.TokenInfo) types.AssetIcon {
	if info == nil {
		return types.AssetIcon{Kind: types.IconNone}
	}
	return info.Icon
}

func tokenAmountLabel(info *types.TokenInfo, amount *big.Int) string {
	if info == nil {
		return fmt.Sprintf("%s (unknown token)", amount.String())
	}
	return fmt.Sprintf("%s %s", utils.ShiftedString(amount, info.Decimals), info.Symbol)
}
