package repository

import (
	"testing"
	"time"

	"github.com/m-mizutani/gt"
)

func TestEscapeLucene(t *testing.T) {
	gt.Equal(t, escapeLucene("user 5511999999999 conversations"), "user 5511999999999 conversations")
	gt.Equal(t, escapeLucene(`a+b (c) "d"`), `a\+b \(c\) \"d\"`)
	gt.Equal(t, escapeLucene(`x:y/z*`), `x\:y\/z\*`)
}

func TestPropTime(t *testing.T) {
	now := time.Date(2023, 11, 14, 22, 13, 20, 0, time.UTC)

	gt.Equal(t, propTime(now), now)
	gt.Equal(t, propTime(now.Format(time.RFC3339Nano)), now)
	gt.True(t, propTime("not a time").IsZero())
	gt.True(t, propTime(nil).IsZero())
}
