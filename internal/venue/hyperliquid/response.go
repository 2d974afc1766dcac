package hyperliquid

import (
	"errors"
	"fmt"
	"strconv"

	"funding-arb-bot/internal/venue"
)

// parseOrderResponse maps the exchange endpoint's order reply to an
// OrderResult. The reply carries one status per submitted order; this
// client submits one order per action.
func parseOrderResponse(resp map[string]any) (venue.OrderResult, error) {
	if resp == nil {
		return venue.OrderResult{}, errors.New("hyperliquid: empty order response")
	}
	if status, _ := resp["status"].(string); status != "ok" {
		return venue.OrderResult{}, fmt.Errorf("hyperliquid: order rejected: %v", resp["response"])
	}
	statuses := orderStatuses(resp)
	if len(statuses) == 0 {
		return venue.OrderResult{}, errors.New("hyperliquid: order response missing statuses")
	}
	entry, ok := statuses[0].(map[string]any)
	if !ok {
		return venue.OrderResult{}, errors.New("hyperliquid: malformed order status")
	}
	if errMsg, ok := entry["error"].(string); ok {
		return venue.OrderResult{Status: venue.StatusRejected}, fmt.Errorf("hyperliquid: %s", errMsg)
	}
	if filled, ok := entry["filled"].(map[string]any); ok {
		return venue.OrderResult{
			OrderID:    oidString(filled["oid"]),
			Status:     venue.StatusFilled,
			FilledSize: floatFromAny(filled["totalSz"]),
			AvgPrice:   floatFromAny(filled["avgPx"]),
		}, nil
	}
	if resting, ok := entry["resting"].(map[string]any); ok {
		return venue.OrderResult{
			OrderID: oidString(resting["oid"]),
			Status:  venue.StatusOpen,
		}, nil
	}
	return venue.OrderResult{}, fmt.Errorf("hyperliquid: unrecognized order status: %v", entry)
}

func orderStatuses(resp map[string]any) []any {
	response, ok := resp["response"].(map[string]any)
	if !ok {
		return nil
	}
	data, ok := response["data"].(map[string]any)
	if !ok {
		return nil
	}
	statuses, _ := data["statuses"].([]any)
	return statuses
}

func oidString(v any) string {
	switch val := v.(type) {
	case float64:
		return strconv.FormatInt(int64(val), 10)
	case string:
		return val
	default:
		return ""
	}
}

func floatFromAny(v any) float64 {
	switch val := v.(type) {
	case float64:
		return val
	case string:
		f, _ := strconv.ParseFloat(val, 64)
		return f
	default:
		return 0
	}
}
