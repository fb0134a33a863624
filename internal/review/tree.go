package review

// assembleThread nests flat, creation-ordered comment rows into the depth-two
// thread shape. Rows whose parent is absent are dropped rather than promoted;
// the delete path removes replies together with their root, so an orphan only
// appears mid-cascade and the next read heals it.
func assembleThread(rows []Comment, likeCounts map[string]int64, viewerLikes map[string]bool) []ThreadComment {
	roots := make([]ThreadComment, 0, len(rows))
	rootIndex := make(map[string]int, len(rows))

	for _, row := range rows {
		if !row.IsRoot() {
			continue
		}
		roots = append(roots, ThreadComment{
			Comment:        row,
			ContentHTML:    RenderContent(row.Content),
			LikeCount:      likeCounts[row.CommentID],
			ViewerHasLiked: viewerLikes[row.CommentID],
			Replies:        []ThreadComment{},
		})
		rootIndex[row.CommentID] = len(roots) - 1
	}

	for _, row := range rows {
		if row.IsRoot() {
			continue
		}
		index, ok := rootIndex[*row.ParentID]
		if !ok {
			continue
		}
		roots[index].Replies = append(roots[index].Replies, ThreadComment{
			Comment:        row,
			ContentHTML:    RenderContent(row.Content),
			LikeCount:      likeCounts[row.CommentID],
			ViewerHasLiked: viewerLikes[row.CommentID],
			Replies:        []ThreadComment{},
		})
	}

	return roots
}
