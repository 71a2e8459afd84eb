package elastic

type bulkAction struct {
	Index *bulkMeta `json:"index,omitempty"`
}

type bulkMeta struct {
	Index string `json:"_index"`
	ID    string `json:"_id"`
}

type bulkResponse struct {
	Took   int                       `json:"took"`
	Errors bool                      `json:"errors"`
	Items  []map[string]bulkItemInfo `json:"items"`
}

type bulkItemInfo struct {
	ID     string          `json:"_id"`
	Status int             `json:"status"`
	Error  *bulkItemErrors `json:"error,omitempty"`
}

type bulkItemErrors struct {
	Type   string `json:"type"`
	Reason string `json:"reason"`
}

type aliasActions struct {
	Actions []aliasAction `json:"actions"`
}

type aliasAction struct {
	Add    *aliasTarget `json:"add,omitempty"`
	Remove *aliasTarget `json:"remove,omitempty"`
}

type aliasTarget struct {
	Index string `json:"index"`
	Alias string `json:"alias"`
}
