package handler

import (
	"net/http"

	"github.com/go-faster/errors"

	"github.com/xenking/skybites/internal/domain/product"
)

// listProducts returns the full catalog.
func (h *Handler) listProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.products.List(r.Context())
	if err != nil {
		internalError(w, r, errors.Wrap(err, "list products"))
		return
	}

	docs := make([]productDoc, len(products))
	for i, p := range products {
		docs[i] = toProductDoc(p)
	}
	writeJSON(w, http.StatusOK, docs)
}

// getProduct returns a single catalog item.
func (h *Handler) getProduct(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	p, err := h.products.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, product.ErrNotFound) {
			writeError(w, http.StatusNotFound, "product not found")
			return
		}
		internalError(w, r, errors.Wrapf(err, "get product %s", id))
		return
	}
	writeJSON(w, http.StatusOK, toProductDoc(*p))
}
