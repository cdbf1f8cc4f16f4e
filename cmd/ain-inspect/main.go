// ain-inspect dumps the loan and order-book state of a node's database for
// operators. It opens the store read-only in the sense that it never writes;
// run it against a stopped node or a copy of the data directory.
package main

import (
	"flag"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/Mixa84/ain/config"
	"github.com/Mixa84/ain/core/types"
	"github.com/Mixa84/ain/core/view"
	"github.com/Mixa84/ain/native/loan"
	"github.com/Mixa84/ain/native/order"
	"github.com/Mixa84/ain/native/token"
	"github.com/Mixa84/ain/observability/logging"
	"github.com/Mixa84/ain/storage"
)

func main() {
	configPath := flag.String("config", "config.toml", "path to the node configuration")
	pairFlag := flag.String("pair", "", "list orders for a token pair, e.g. 1:2")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.Setup("ain-inspect", cfg.LogEnvironment)

	db, err := storage.NewLevelDB(cfg.StatePath())
	if err != nil {
		logger.Error("open state database", "path", cfg.StatePath(), "error", err)
		os.Exit(1)
	}
	defer db.Close()

	v := view.New(db)
	tokens := token.NewStore(v)
	loans := loan.NewView(v, tokens)
	orders := order.NewView(v, tokens)

	if *pairFlag != "" {
		pair, err := parsePair(*pairFlag)
		if err != nil {
			logger.Error("parse pair", "pair", *pairFlag, "error", err)
			os.Exit(1)
		}
		if err := dumpOrders(orders, pair); err != nil {
			logger.Error("list orders", "error", err)
			os.Exit(1)
		}
		return
	}

	if err := dumpTokens(tokens); err != nil {
		logger.Error("list tokens", "error", err)
		os.Exit(1)
	}
	if err := dumpSchemes(loans); err != nil {
		logger.Error("list loan schemes", "error", err)
		os.Exit(1)
	}
	if err := dumpCollateralTokens(loans); err != nil {
		logger.Error("list collateral tokens", "error", err)
		os.Exit(1)
	}
	if err := dumpLoanTokens(loans); err != nil {
		logger.Error("list loan tokens", "error", err)
		os.Exit(1)
	}
}

func parsePair(s string) (order.Pair, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return order.Pair{}, fmt.Errorf("pair must look like from:to")
	}
	from, err := strconv.ParseUint(parts[0], 10, 32)
	if err != nil {
		return order.Pair{}, err
	}
	to, err := strconv.ParseUint(parts[1], 10, 32)
	if err != nil {
		return order.Pair{}, err
	}
	return order.Pair{TokenFrom: types.TokenID(from), TokenTo: types.TokenID(to)}, nil
}

func dumpTokens(tokens *token.Store) error {
	fmt.Println("tokens:")
	return tokens.ForEach(func(id types.TokenID, meta token.Meta) bool {
		fmt.Printf("  %-8s %-10s %q decimals=%d mintable=%v\n", id, meta.Symbol, meta.Name, meta.Decimals, meta.Mintable)
		return true
	})
}

func dumpSchemes(loans *loan.View) error {
	var schemes []loan.Scheme
	err := loans.ForEachScheme(func(id string, data loan.SchemeData) bool {
		schemes = append(schemes, loan.Scheme{SchemeData: data, ID: id})
		return true
	})
	if err != nil {
		return err
	}
	sort.Slice(schemes, func(i, j int) bool {
		if schemes[i].Ratio != schemes[j].Ratio {
			return schemes[i].Ratio < schemes[j].Ratio
		}
		return schemes[i].Rate < schemes[j].Rate
	})
	defaultID, hasDefault, err := loans.DefaultScheme()
	if err != nil {
		return err
	}
	fmt.Println("loan schemes:")
	for _, s := range schemes {
		marker := ""
		if hasDefault && s.ID == defaultID {
			marker = " (default)"
		}
		fmt.Printf("  %-8s ratio=%d rate=%d%s\n", s.ID, s.Ratio, s.Rate, marker)
	}
	return nil
}

func dumpCollateralTokens(loans *loan.View) error {
	fmt.Println("collateral tokens:")
	return loans.ForEachCollateralToken(loan.CollateralKey{}, func(key loan.CollateralKey, creationTx types.TxID) bool {
		fmt.Printf("  token=%s activation=%d created-by=%s\n", key.TokenID, key.ActivationHeight(), creationTx)
		return true
	})
}

func dumpLoanTokens(loans *loan.View) error {
	fmt.Println("loan tokens:")
	return loans.ForEachLoanToken(func(rec loan.LoanTokenRecord) bool {
		fmt.Printf("  token=%s %-10s interest=%d mintable=%v created-by=%s\n", rec.TokenID, rec.Symbol, rec.Interest, rec.Mintable, rec.CreationTx)
		return true
	})
}

func dumpOrders(orders *order.View, pair order.Pair) error {
	fmt.Printf("orders %s -> %s:\n", pair.TokenFrom, pair.TokenTo)
	return orders.ForEachOrder(pair, types.TxID{}, func(rec order.OrderRecord) bool {
		status := "open"
		if rec.IsClosed() {
			status = fmt.Sprintf("closed@%d by %s", rec.CloseHeight, rec.CloseTx)
		}
		fmt.Printf("  %s amount=%d price=%d expiry=%d %s\n", rec.CreationTx, rec.AmountFrom, rec.OrderPrice, rec.Expiry, status)
		return true
	})
}
