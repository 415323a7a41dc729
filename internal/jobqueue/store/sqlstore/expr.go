package sqlstore

import "gorm.io/gorm"

func gormExprIncrement() any {
	return gorm.Expr("retries + 1")
}
