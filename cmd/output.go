package cmd

import (
	"fmt"
	"io"

	"github.com/ethereum/go-ethereum/common"
	"github.com/michaelpento.lv/flasharb/calculation"
	"github.com/michaelpento.lv/flasharb/simulator"
	"github.com/michaelpento.lv/flasharb/types"
)

func venueName(w *simulator.World, addr common.Address) string {
	if v, ok := w.Venues.Get(addr); ok {
		return v.Name()
	}
	return addr.Hex()
}

func symbol(w *simulator.World, token common.Address) string {
	if a, ok := w.Ledger.Asset(token); ok {
		return a.Symbol
	}
	return token.Hex()
}

func printPlan(out io.Writer, w *simulator.World, spec types.TradeSpec, plan *calculation.Plan) {
	fmt.Fprintf(out, "trade:    %s over %d legs\n", w.Ledger.Format(spec.Token, spec.Amount), len(spec.Path))
	for i, leg := range spec.Path {
		fmt.Fprintf(out, "leg %d:    %s %s -> %s  quote %s  min %s\n", i,
			venueName(w, leg.Venue), symbol(w, leg.TokenIn), symbol(w, leg.TokenOut),
			w.Ledger.Format(leg.TokenOut, plan.Quotes[i]),
			w.Ledger.Format(leg.TokenOut, plan.MinOuts[i]))
	}
	fmt.Fprintf(out, "expected: %s\n", w.Ledger.Format(spec.Token, plan.ExpectedProfit))
	if floor := spec.MinProfit; floor != nil && plan.ExpectedProfit.Cmp(floor) < 0 {
		fmt.Fprintf(out, "verdict:  below minimum profit %s\n", w.Ledger.Format(spec.Token, floor))
	} else {
		fmt.Fprintf(out, "verdict:  profitable\n")
	}
}

func printReport(out io.Writer, w *simulator.World, r *simulator.Report) {
	if r.Plan != nil {
		printPlan(out, w, r.Trade, r.Plan)
	} else if r.PlanErr != nil {
		fmt.Fprintf(out, "pre-flight: %v\n", r.PlanErr)
	}

	fmt.Fprintf(out, "caller:   %s\n", r.Caller.Hex())
	fmt.Fprintf(out, "event:    %s %s\n", r.Event.Type, r.Event.InvocationID)
	if r.Err != nil {
		fmt.Fprintf(out, "status:   reverted (%s)\n", types.KindOf(r.Err))
		fmt.Fprintf(out, "error:    %v\n", r.Err)
		return
	}

	for i, amount := range r.Result.Realized {
		leg := r.Trade.Path[i]
		fmt.Fprintf(out, "filled %d: %s\n", i, w.Ledger.Format(leg.TokenOut, amount))
	}
	fmt.Fprintf(out, "status:   settled in %s\n", r.Elapsed)
	fmt.Fprintf(out, "repaid:   %s\n", w.Ledger.Format(r.Trade.Token, r.Result.Repayment))
	fmt.Fprintf(out, "profit:   %s\n", w.Ledger.Format(r.Trade.Token, r.Result.Profit))
	fmt.Fprintf(out, "owner:    %s -> %s\n",
		w.Ledger.Format(r.Trade.Token, r.OwnerBefore),
		w.Ledger.Format(r.Trade.Token, r.OwnerAfter))
}
