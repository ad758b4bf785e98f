package main

import (
	"context"
	"flag"
	"log"
	"os"

	"github.com/noperator/coinrank/pkg/coinrank"
)

func main() {
	log.SetOutput(os.Stderr)

	seed := flag.Uint64("seed", 7, "Seed for the shuffle and the coins")
	budget := flag.Int("b", 120, "Flip budget")
	quiet := flag.Bool("q", false, "Only print the answer")
	flag.Parse()

	sc := coinrank.DemoScenario(*seed)
	coins := sc.Arrange()
	probs := coinrank.Probabilities(coins)
	for i, p := range probs {
		log.Printf("#%02d: p(H)=%.2f", i, p)
	}

	sources, err := sc.Sources(coins)
	if err != nil {
		log.Fatal(err)
	}

	index, ok, err := coinrank.FindTargetRank(context.Background(), sources, *budget, !*quiet)
	if err != nil {
		log.Fatal(err)
	}
	if !ok {
		log.Println("no coin chosen: too few flips or unlucky observations")
		return
	}

	log.Printf("chose coin #%d, true p(H)=%.2f", index, probs[index])
	if target, found := coinrank.TrueTarget(probs); found {
		log.Printf("true target #%d (p(H)=%.2f)", target, probs[target])
	}
}
