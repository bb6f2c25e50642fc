package dispatcher

import "strings"

// Topic names as published by the backend, without the destination prefix.
const (
	TopicOrderList       = "hoa-don-list"
	TopicOrderCreated    = "hoa-don-created"
	TopicOrderUpdated    = "hoa-don-updated"
	TopicOrderDetail     = "hoa-don-detail"
	TopicCartUpdate      = "gio-hang-update"
	TopicPaymentSuccess  = "payment-success"
	TopicOrderCancelled  = "hoa-don-cancelled"
	TopicCustomerUpdate  = "khach-hang-update"
	TopicVoucherOrderUpd = "voucher-order-update"
)

// DefaultPrefix is the STOMP destination prefix the backend broadcasts under.
const DefaultPrefix = "/topic/"

var topicNames = []string{
	TopicOrderList,
	TopicOrderCreated,
	TopicOrderUpdated,
	TopicOrderDetail,
	TopicCartUpdate,
	TopicPaymentSuccess,
	TopicOrderCancelled,
	TopicCustomerUpdate,
	TopicVoucherOrderUpd,
}

// TopicNames returns the bare topic names in subscription order.
func TopicNames() []string {
	return append([]string(nil), topicNames...)
}

// Topics returns the fixed subscription set with prefix applied.
func Topics(prefix string) []string {
	out := make([]string, len(topicNames))
	for i, t := range topicNames {
		out[i] = prefix + t
	}
	return out
}

// bareTopic strips any destination prefix: "/topic/hoa-don-list",
// "topic.hoa-don-list" and "hoa-don-list" all map to "hoa-don-list".
func bareTopic(topic string) string {
	if i := strings.LastIndexAny(topic, "/."); i >= 0 {
		return topic[i+1:]
	}
	return topic
}
