package memory

import (
	"sort"

	"github.com/warp/fridge-ledger/ledger"
)

// Map iteration order is random; sort to match the SQLite backend.

func sortItems(items []ledger.Item) {
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
}

func sortCategories(cats []ledger.ItemCategory) {
	sort.Slice(cats, func(i, j int) bool { return cats[i].Name < cats[j].Name })
}

func sortGroups(groups []ledger.AttributeGroup) {
	sort.Slice(groups, func(i, j int) bool { return groups[i].Code < groups[j].Code })
}

func sortAttributes(attrs []ledger.Attribute) {
	sort.Slice(attrs, func(i, j int) bool { return attrs[i].Code < attrs[j].Code })
}

func sortUsers(users []ledger.User) {
	sort.Slice(users, func(i, j int) bool { return users[i].Email < users[j].Email })
}

func sortAccounts(accounts []ledger.Account) {
	sort.Slice(accounts, func(i, j int) bool { return accounts[i].UserID < accounts[j].UserID })
}
