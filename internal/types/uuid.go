package types

import (
	"fmt"
	"strings"
	"sync"

	"github.com/oklog/ulid/v2"
	"github.com/teris-io/shortid"
)

// GenerateUUID returns a k-sortable unique identifier
func GenerateUUID() string {
	return ulid.Make().String()
}

// GenerateUUIDWithPrefix returns a k-sortable unique identifier
// with a prefix ex subs_01HZX3K5J6Q8W2V7N4M9T0R1YB
func GenerateUUIDWithPrefix(prefix string) string {
	if prefix == "" {
		return GenerateUUID()
	}
	return fmt.Sprintf("%s_%s", prefix, GenerateUUID())
}

var (
	sidGenerator *shortid.Shortid
	once         sync.Once
)

// initializeSID initializes the shortid generator once
func initializeSID() {
	var err error
	sidGenerator, err = shortid.New(1, shortid.DefaultABC, 2342)
	if err != nil {
		panic("failed to initialize shortid generator: " + err.Error())
	}
}

// GenerateShortIDWithPrefix returns a short human readable id with a prefix.
// Total length is capped at 12 characters, e.g., `CR-XYZ12A8Q`.
func GenerateShortIDWithPrefix(prefix string) string {
	once.Do(initializeSID)

	id, err := sidGenerator.Generate()
	if err != nil {
		return ""
	}
	id = strings.ReplaceAll(id, "-", "")

	availableLen := 12 - len(prefix)
	if availableLen <= 0 {
		return ""
	}

	if len(id) > availableLen {
		id = id[:availableLen]
	}

	return strings.ToUpper(fmt.Sprintf("%s%s", prefix, id))
}

const (
	// Prefixes for all domains and entities

	UUID_PREFIX_SUBSCRIPTION         = "subs"
	UUID_PREFIX_SUBSCRIPTION_PHASE   = "phase"
	UUID_PREFIX_SUBSCRIPTION_ITEM    = "subs_item"
	UUID_PREFIX_INVOICE              = "inv"
	UUID_PREFIX_CUSTOMER             = "cust"
	UUID_PREFIX_PLAN_VERSION         = "planv"
	UUID_PREFIX_FEATURE_PLAN_VERSION = "fpv"
	UUID_PREFIX_ENTITLEMENT          = "ent"
	UUID_PREFIX_CREDIT               = "credit"
	UUID_PREFIX_EVENT                = "event"
)

const (
	SHORT_ID_PREFIX_CREDIT = "CR-"
)
