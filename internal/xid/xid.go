package xid

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// New builds an id of the form PREFIX-20060102150405-a1b2c3. The timestamp
// component keeps ids sortable on receipts; the random suffix keeps them
// unique when two tills commit within the same second.
func New(prefix string) string {
	dt := time.Now().UTC().Format("20060102150405")
	buf := make([]byte, 3)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("%s-%s-%d", prefix, dt, time.Now().UnixNano()%1000000)
	}
	return fmt.Sprintf("%s-%s-%s", prefix, dt, hex.EncodeToString(buf))
}

// NewTransactionID is the id stamped on every committed sale.
func NewTransactionID() string {
	return New("TX")
}
