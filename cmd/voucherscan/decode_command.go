package main

import (
	"bufio"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"voucherscan/internal/voucher"
)

type decodeResult struct {
	Payload   string `json:"payload"`
	Valid     bool   `json:"valid"`
	VoucherID string `json:"voucher_id,omitempty"`
	BuyerID   int64  `json:"buyer_id,omitempty"`
	Format    string `json:"format,omitempty"`
	Reason    string `json:"reason,omitempty"`
	Error     string `json:"error,omitempty"`
}

func newDecodeCommand() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "decode [payload...]",
		Short: "Decode voucher payloads without redeeming them",
		Long: `Decode voucher payloads offline. Payloads come from the arguments or,
when none are given, one per line from standard input.`,
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			payloads := args
			if len(payloads) == 0 {
				scanner := bufio.NewScanner(cmd.InOrStdin())
				for scanner.Scan() {
					if line := strings.TrimSpace(scanner.Text()); line != "" {
						payloads = append(payloads, line)
					}
				}
				if err := scanner.Err(); err != nil {
					return fmt.Errorf("read payloads: %w", err)
				}
			}
			if len(payloads) == 0 {
				return fmt.Errorf("no payloads given")
			}

			results := make([]decodeResult, 0, len(payloads))
			invalid := 0
			for _, payload := range payloads {
				result := decodePayload(payload)
				if !result.Valid {
					invalid++
				}
				results = append(results, result)
			}

			if asJSON {
				if err := writeJSON(cmd, results); err != nil {
					return err
				}
			} else {
				rows := make([][]string, 0, len(results))
				for _, r := range results {
					if r.Valid {
						rows = append(rows, []string{r.VoucherID, strconv.FormatInt(r.BuyerID, 10), r.Format, "valid"})
					} else {
						rows = append(rows, []string{"-", "-", "-", r.Error})
					}
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"Voucher", "Buyer", "Format", "Result"}, rows, 1))
			}
			if invalid > 0 {
				return fmt.Errorf("%d of %d payload(s) did not decode", invalid, len(payloads))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func decodePayload(payload string) decodeResult {
	sanitized := voucher.Sanitize(payload)
	result := decodeResult{Payload: sanitized}
	token, err := voucher.Decode(sanitized)
	if err != nil {
		result.Error = err.Error()
		if reason, ok := voucher.ReasonOf(err); ok {
			result.Reason = string(reason)
		}
		return result
	}
	result.Valid = true
	result.VoucherID = token.VoucherID
	result.BuyerID = token.BuyerID
	result.Format = token.Format
	return result
}
