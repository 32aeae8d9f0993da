package repository

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/hitoshi/todoman/internal/model"
	"github.com/lib/pq"
)

// 接続断・過負荷を示すSQLSTATE
const (
	pqClassConnection    = "08"
	pqAdminShutdown      = "57P01"
	pqCrashShutdown      = "57P02"
	pqCannotConnectNow   = "57P03"
	pqTooManyConnections = "53300"
)

// IsUnavailable はエラーがデータストアへの到達不能を示すかを判定する。
// クエリ自体の誤りや制約違反はfalseを返す。
func IsUnavailable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		code := string(pqErr.Code)
		if strings.HasPrefix(code, pqClassConnection) {
			return true
		}
		switch code {
		case pqAdminShutdown, pqCrashShutdown, pqCannotConnectNow, pqTooManyConnections:
			return true
		}
		return false
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}

// wrapStoreError はストアのエラーを操作名付きで包む。
// 到達不能エラーはSTORE_UNAVAILABLEのAPIErrorに変換する。
func wrapStoreError(op string, err error) error {
	if IsUnavailable(err) {
		return model.NewStoreUnavailableError(fmt.Errorf("%s: %w", op, err))
	}
	return fmt.Errorf("failed to %s: %w", op, err)
}
