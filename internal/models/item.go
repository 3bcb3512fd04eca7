package models

type Item struct {
	ID          int64  `json:"id" yaml:"id"`
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description" yaml:"description"`
}

// ItemUpdate carries a partial update. Nil fields keep their stored value.
type ItemUpdate struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
}

func (u ItemUpdate) Empty() bool {
	return u.Name == nil && u.Description == nil
}
