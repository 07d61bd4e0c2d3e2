package products

import (
	"encoding/json"
	"log"
	"os"
	"path/filepath"
	"strings"
)

// Product describes a purchasable course referenced by exercises.
type Product struct {
	CourseID    uint64 `json:"course_id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	CheckoutURL string `json:"checkout_url"`
	Price       string `json:"price,omitempty"`
}

var defaultCatalog = []Product{
	{
		CourseID:    1,
		Name:        "Jornada dos Cinco Elementos",
		Description: "Curso base com as práticas fundamentais de cada elemento.",
		CheckoutURL: "https://pay.harmonia.app/jornada-cinco-elementos",
	},
	{
		CourseID:    2,
		Name:        "Sono Profundo",
		Description: "Sequências noturnas para quem dorme mal.",
		CheckoutURL: "https://pay.harmonia.app/sono-profundo",
	},
	{
		CourseID:    3,
		Name:        "Equilíbrio Emocional",
		Description: "Práticas de regulação para ansiedade e irritabilidade.",
		CheckoutURL: "https://pay.harmonia.app/equilibrio-emocional",
	},
}

// loadCatalog returns the product catalog, honoring PRODUCT_CATALOG (inline
// JSON) and PRODUCT_CATALOG_FILE overrides before falling back to defaults.
func loadCatalog() []Product {
	rawInline := strings.TrimSpace(os.Getenv("PRODUCT_CATALOG"))
	if rawInline != "" {
		if catalog := parseCatalogJSON(rawInline); len(catalog) > 0 {
			return catalog
		}
		log.Printf("products: failed to parse PRODUCT_CATALOG override")
	}

	rawPath := strings.TrimSpace(os.Getenv("PRODUCT_CATALOG_FILE"))
	if rawPath != "" {
		data, err := os.ReadFile(filepath.Clean(rawPath))
		if err != nil {
			log.Printf("products: read PRODUCT_CATALOG_FILE failed: %v", err)
		} else if catalog := parseCatalogJSON(string(data)); len(catalog) > 0 {
			return catalog
		} else {
			log.Printf("products: failed to parse catalog file %s", rawPath)
		}
	}

	return append([]Product(nil), defaultCatalog...)
}

func parseCatalogJSON(raw string) []Product {
	var catalog []Product
	if err := json.Unmarshal([]byte(raw), &catalog); err != nil {
		return nil
	}
	valid := make([]Product, 0, len(catalog))
	for _, product := range catalog {
		if product.CourseID == 0 || strings.TrimSpace(product.Name) == "" || strings.TrimSpace(product.CheckoutURL) == "" {
			continue
		}
		valid = append(valid, product)
	}
	return valid
}
