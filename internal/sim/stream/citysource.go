package stream

import (
	"context"
	"fmt"

	"citycraft.dev/internal/sim/citygen"
	"citycraft.dev/internal/sim/cityrand"
	"citycraft.dev/internal/sim/grid"
)

// CityGenerator adapts a generated city into a chunk content generator.
// Cells with no city content load as empty chunks (outskirts).
func CityGenerator(city *citygen.City) Generator {
	return func(ctx context.Context, key grid.ChunkKey) (*Content, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		cc, ok := city.ByChunk[key]
		if !ok {
			// Outskirt cells carry only deterministic decoration: the roll
			// depends on seed and cell alone, so re-entering a cell
			// reproduces the same props without storing them.
			h := cityrand.Hash2(city.Seed, key.CX, key.CZ)
			c := &Content{}
			if h%4 == 0 {
				c.Assets = append(c.Assets, fmt.Sprintf("props/greenery_%d", h%8))
			}
			return c, nil
		}
		content := &Content{
			Buildings: cc.Buildings,
			Roads:     cc.Roads,
		}
		for _, b := range cc.Buildings {
			content.Assets = append(content.Assets, assetID(b))
		}
		return content, nil
	}
}

// assetID names the renderable asset a building resolves to.
func assetID(b *citygen.Building) string {
	return fmt.Sprintf("%s/%s", b.Config.TextureFamily, b.ID)
}
