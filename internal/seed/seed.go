package seed

// #region fold-seed
// FoldBase is added to the fold index to form that fold's seed.
const FoldBase = 2023

// FoldSeed returns the seed the collaborator installs before fold runs:
// 2023 + fold. It depends only on the fold index, never on run order.
func FoldSeed(fold int) int64 {
	return int64(FoldBase + fold)
}

// #endregion fold-seed
