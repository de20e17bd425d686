package domain

import "github.com/google/uuid"

func NewAccountID() AccountID {
	return AccountID(uuid.NewString())
}

// Reconcile merges the declared accounts with the persisted ones by Key.
// Declared fields win for credentials and targets; persisted identity, usage and
// profile are kept for matches. Accounts without a key are matched to the
// persisted keyless accounts in order. Declared order is preserved and
// persisted-only entries are dropped.
func Reconcile(declared, persisted []Account, newID func() AccountID) []Account {
	if newID == nil {
		newID = NewAccountID
	}

	byKey := make(map[string]Account, len(persisted))
	var keyless []Account
	for _, account := range persisted {
		key := account.Key()
		if key == "" {
			keyless = append(keyless, account)
			continue
		}
		if _, ok := byKey[key]; ok {
			continue
		}
		byKey[key] = account
	}

	result := make([]Account, 0, len(declared))
	seen := make(map[string]struct{}, len(declared))
	for _, decl := range declared {
		key := decl.Key()
		if key != "" {
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
		}

		existing, ok := byKey[key]
		if key == "" {
			ok = len(keyless) > 0
			if ok {
				existing, keyless = keyless[0], keyless[1:]
			}
		}

		merged := decl
		merged.Mode = ParseMode(string(decl.Mode))
		if ok {
			merged.ID = existing.ID
			merged.Usage = existing.Usage
			merged.Profile = existing.Profile.Clone()
			if merged.Mode == "" {
				merged.Mode = existing.Mode
			}
			if merged.Name == "" {
				merged.Name = existing.Name
			}
		} else {
			merged.ID = newID()
		}
		if merged.Mode == "" {
			merged.Mode = ModeFast
		}

		result = append(result, merged)
	}

	return result
}
