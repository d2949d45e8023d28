package anthropic

// BuildCachedSystemBlocks constructs system content blocks with a cache
// breakpoint. Agent system prompts are long and identical across the
// concurrent parameter research calls of a run, so the first call warms the
// cache for the rest.
func BuildCachedSystemBlocks(text string) []SystemBlock {
	return []SystemBlock{
		{
			Text: text,
			CacheControl: &CacheControl{
				TTL: "5m",
			},
		},
	}
}
