package domain

// Identity 是外部提供的调用者身份，核心逻辑只把它当作不透明值使用。
type Identity struct {
	UserID      string `json:"id"`
	DisplayName string `json:"displayName"`
}
