package app

import (
	"fmt"
	"strings"
)

// StartupSummary prints the wired configuration once at boot so an
// operator can confirm what the process will actually do.
type StartupSummary struct {
	HTTPAddr        string
	Venues          []string
	Accounts        []AccountSummary
	OrdersPath      string
	DispatchLogPath string
	MaxAttempts     int
	ATRWired        bool
}

type AccountSummary struct {
	ID     string
	Broker string
	Sizing string
}

func (s *StartupSummary) Print() {
	fmt.Println(strings.Repeat("=", 80))
	fmt.Println("STARTUP SUMMARY")
	fmt.Println(strings.Repeat("=", 80))

	fmt.Println("[API]")
	fmt.Printf("  listen: %s\n", s.HTTPAddr)
	fmt.Println()

	fmt.Println("[VENUES]")
	fmt.Printf("  wired: %s\n", formatList(s.Venues))
	fmt.Printf("  atr source: %s\n", yesNo(s.ATRWired))
	fmt.Println()

	fmt.Println("[DISPATCH]")
	fmt.Printf("  max attempts: %d\n", s.MaxAttempts)
	fmt.Printf("  order store: %s\n", s.OrdersPath)
	fmt.Printf("  attempt journal: %s\n", s.DispatchLogPath)
	fmt.Println()

	fmt.Println("[ACCOUNTS]")
	if len(s.Accounts) == 0 {
		fmt.Println("  (none active)")
	} else {
		for _, acct := range s.Accounts {
			fmt.Printf("  > %s broker=%s sizing=%s\n", acct.ID, acct.Broker, acct.Sizing)
		}
	}
	fmt.Println(strings.Repeat("=", 80))
}

func formatList(items []string) string {
	if len(items) == 0 {
		return "-"
	}
	return strings.Join(items, ", ")
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
