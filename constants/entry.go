package constants

// EntryType tags one line entry of an extracted invoice.
type EntryType string

const (
	EntryCharge     EntryType = "CHARGE"
	EntryDiscount   EntryType = "DISCOUNT"
	EntryTax        EntryType = "TAX"
	EntrySubtotal   EntryType = "SUBTOTAL"
	EntryTotal      EntryType = "TOTAL"
	EntryDue        EntryType = "DUE"
	EntryAdjustment EntryType = "ADJUSTMENT"
	EntryInfo       EntryType = "INFO"
)

var entryTypes = map[EntryType]struct{}{
	EntryCharge: {}, EntryDiscount: {}, EntryTax: {}, EntrySubtotal: {},
	EntryTotal: {}, EntryDue: {}, EntryAdjustment: {}, EntryInfo: {},
}

// CanonicalEntryType maps a free-form label from the model to a known
// EntryType, falling back to INFO for anything it does not recognize.
func CanonicalEntryType(s string) EntryType {
	t := EntryType(s)
	if _, ok := entryTypes[t]; ok {
		return t
	}
	return EntryInfo
}

// EntryTypeStrings returns the allowed entry type labels, for schema enums.
func EntryTypeStrings() []string {
	return []string{
		string(EntryCharge), string(EntryDiscount), string(EntryTax),
		string(EntrySubtotal), string(EntryTotal), string(EntryDue),
		string(EntryAdjustment), string(EntryInfo),
	}
}
