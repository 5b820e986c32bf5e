package cart

import "retailpos/backend/internal/domain"

// findNextAvailableBatch walks the candidates oldest first and returns the
// first one the cart has not used up.
func findNextAvailableBatch(productID string, candidates []domain.Batch, c *Cart) (domain.Batch, bool) {
	for _, candidate := range candidates {
		if headroom(productID, candidate, c) > 0 {
			return candidate, true
		}
	}
	return domain.Batch{}, false
}

// headroom is how many more units the batch can give to the cart.
func headroom(productID string, b domain.Batch, c *Cart) int {
	room := b.CurrentQuantity - c.QuantityOnBatch(productID, b.BatchNumber)
	if room < 0 {
		return 0
	}
	return room
}

// batchByNumber finds the batch in a snapshot.
func batchByNumber(batches []domain.Batch, number string) (domain.Batch, bool) {
	for _, b := range batches {
		if b.BatchNumber == number {
			return b, true
		}
	}
	return domain.Batch{}, false
}
