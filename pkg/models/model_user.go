// Copyright 2024 The cutout.io Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package models

import (
	"time"
)

const UserTableName = "users"

type User struct {
	ID        uint       `gorm:"primarykey" json:"id"`
	Username  string     `gorm:"type:varchar(50);uniqueIndex" json:"username"`
	Email     string     `gorm:"type:varchar(255)" json:"email,omitempty"`
	IsActive  *bool      `gorm:"default:true" json:"isActive,omitempty"`
	CreatedAt *time.Time `json:"createdAt,omitempty"`
}

func (User) TableName() string {
	return UserTableName
}
