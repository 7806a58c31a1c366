package shelfsync

import "time"

// CatalogObjectType identifies the kind of a catalog object. The remote
// commerce API paginates all seven types together, so every page request
// carries the full set.
type CatalogObjectType string

const (
	TypeItem          CatalogObjectType = "ITEM"
	TypeCategory      CatalogObjectType = "CATEGORY"
	TypeItemVariation CatalogObjectType = "ITEM_VARIATION"
	TypeModifier      CatalogObjectType = "MODIFIER"
	TypeModifierList  CatalogObjectType = "MODIFIER_LIST"
	TypeTax           CatalogObjectType = "TAX"
	TypeDiscount      CatalogObjectType = "DISCOUNT"
)

// AllCatalogObjectTypes is the fixed type filter sent with every page
// request.
var AllCatalogObjectTypes = []CatalogObjectType{
	TypeItem,
	TypeCategory,
	TypeItemVariation,
	TypeModifier,
	TypeModifierList,
	TypeTax,
	TypeDiscount,
}

// CatalogObject is one object from the remote catalog. The remote API is
// the source of truth: the engine always takes the incoming page's object
// as authoritative for its id.
type CatalogObject struct {
	ID        string            `json:"id"`
	Type      CatalogObjectType `json:"type"`
	UpdatedAt time.Time         `json:"updated_at"`
	Version   int64             `json:"version"`
	IsDeleted bool              `json:"is_deleted"`

	// Exactly one of the payloads below is set, matching Type.
	ItemData      *ItemData      `json:"item_data,omitempty"`
	CategoryData  *CategoryData  `json:"category_data,omitempty"`
	VariationData *VariationData `json:"item_variation_data,omitempty"`
}

// ItemData is the type-specific payload for ITEM objects.
type ItemData struct {
	Name         string   `json:"name"`
	Description  string   `json:"description,omitempty"`
	Abbreviation string   `json:"abbreviation,omitempty"`
	CategoryID   string   `json:"category_id,omitempty"`
	TaxIDs       []string `json:"tax_ids,omitempty"`
}

// CategoryData is the type-specific payload for CATEGORY objects.
type CategoryData struct {
	Name string `json:"name"`
}

// VariationData is the type-specific payload for ITEM_VARIATION objects.
type VariationData struct {
	ItemID      string `json:"item_id"`
	Name        string `json:"name"`
	SKU         string `json:"sku,omitempty"`
	UPC         string `json:"upc,omitempty"`
	PriceAmount int64  `json:"price_amount,omitempty"`
	Currency    string `json:"currency,omitempty"`
}

// CatalogPage is one page of the remote catalog list endpoint. An empty
// Cursor means there are no more pages.
type CatalogPage struct {
	Objects []CatalogObject `json:"objects"`
	Cursor  string          `json:"cursor,omitempty"`
}
