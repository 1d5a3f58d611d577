package model

import "time"

// User dashboard 维护的用户投影，这里只读
type User struct {
	Id         int64     `json:"id" gorm:"column:id;primaryKey;autoIncrement"`
	UserId     string    `json:"user_id" gorm:"column:user_id;size:100;not null;uniqueIndex"`
	Nickname   string    `json:"nickname" gorm:"column:nickname;size:100"`
	Email      string    `json:"email" gorm:"column:email;size:255"`
	CreateTime time.Time `json:"create_time" gorm:"column:gmt_create;autoCreateTime"`
	UpdateTime time.Time `json:"update_time" gorm:"column:gmt_modified;autoUpdateTime"`
}

func (User) TableName() string {
	return "user"
}
