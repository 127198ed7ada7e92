package ffi

/*
#include <stdint.h>

// Date-time support routines called from compiled code through pointers
// embedded at compile time. All of them take microseconds since the Unix
// epoch and return a double, using the proleptic Gregorian calendar in UTC.

#define JYAFN_USEC_PER_DAY 86400000000LL

static int64_t jyafn_days(int64_t micros) {
	int64_t d = micros / JYAFN_USEC_PER_DAY;
	if (micros % JYAFN_USEC_PER_DAY < 0) {
		d -= 1;
	}
	return d;
}

static int64_t jyafn_tod(int64_t micros) {
	int64_t t = micros % JYAFN_USEC_PER_DAY;
	if (t < 0) {
		t += JYAFN_USEC_PER_DAY;
	}
	return t;
}

// Civil-from-days conversion over the proleptic Gregorian calendar.
static void jyafn_civil(int64_t days, int64_t* y, unsigned* m, unsigned* d) {
	int64_t z = days + 719468;
	int64_t era = (z >= 0 ? z : z - 146096) / 146097;
	unsigned doe = (unsigned)(z - era * 146097);
	unsigned yoe = (doe - doe / 1460 + doe / 36524 - doe / 146096) / 365;
	int64_t year = (int64_t)yoe + era * 400;
	unsigned doy = doe - (365 * yoe + yoe / 4 - yoe / 100);
	unsigned mp = (5 * doy + 2) / 153;
	unsigned day = doy - (153 * mp + 2) / 5 + 1;
	unsigned month = mp < 10 ? mp + 3 : mp - 9;
	*y = year + (month <= 2);
	*m = month;
	*d = day;
}

static int64_t jyafn_days_from_civil(int64_t y, unsigned m, unsigned d) {
	y -= m <= 2;
	int64_t era = (y >= 0 ? y : y - 399) / 400;
	unsigned yoe = (unsigned)(y - era * 400);
	unsigned doy = (153 * (m > 2 ? m - 3 : m + 9) + 2) / 5 + d - 1;
	unsigned doe = yoe * 365 + yoe / 4 - yoe / 100 + doy;
	return era * 146097 + (int64_t)doe - 719468;
}

static double jyafn_year(int64_t micros) {
	int64_t y; unsigned m, d;
	jyafn_civil(jyafn_days(micros), &y, &m, &d);
	return (double)y;
}

static double jyafn_month(int64_t micros) {
	int64_t y; unsigned m, d;
	jyafn_civil(jyafn_days(micros), &y, &m, &d);
	return (double)m;
}

static double jyafn_day(int64_t micros) {
	int64_t y; unsigned m, d;
	jyafn_civil(jyafn_days(micros), &y, &m, &d);
	return (double)d;
}

static double jyafn_hour(int64_t micros) {
	return (double)(jyafn_tod(micros) / 3600000000LL);
}

static double jyafn_minute(int64_t micros) {
	return (double)(jyafn_tod(micros) / 60000000LL % 60);
}

static double jyafn_second(int64_t micros) {
	return (double)(jyafn_tod(micros) / 1000000LL % 60);
}

static double jyafn_microsecond(int64_t micros) {
	return (double)(jyafn_tod(micros) % 1000000LL);
}

// Monday is 0, Sunday is 6. The epoch fell on a Thursday.
static double jyafn_weekday(int64_t micros) {
	int64_t wd = (jyafn_days(micros) + 3) % 7;
	if (wd < 0) {
		wd += 7;
	}
	return (double)wd;
}

static double jyafn_dayofyear(int64_t micros) {
	int64_t days = jyafn_days(micros);
	int64_t y; unsigned m, d;
	jyafn_civil(days, &y, &m, &d);
	return (double)(days - jyafn_days_from_civil(y, 1, 1) + 1);
}

static unsigned jyafn_iso_weeks_in_year(int64_t y) {
	// 53-week years are those starting or (when leap) ending on Thursday.
	int64_t jan1 = jyafn_days_from_civil(y, 1, 1);
	int64_t dec31 = jyafn_days_from_civil(y, 12, 31);
	int64_t jan1_wd = (jan1 + 3) % 7;
	if (jan1_wd < 0) jan1_wd += 7;
	int64_t dec31_wd = (dec31 + 3) % 7;
	if (dec31_wd < 0) dec31_wd += 7;
	return (jan1_wd == 3 || dec31_wd == 3) ? 53 : 52;
}

// ISO 8601 week number.
static double jyafn_week(int64_t micros) {
	int64_t days = jyafn_days(micros);
	int64_t y; unsigned m, d;
	jyafn_civil(days, &y, &m, &d);
	int64_t ordinal = days - jyafn_days_from_civil(y, 1, 1) + 1;
	int64_t wd = (days + 3) % 7;
	if (wd < 0) wd += 7;
	int64_t week = (ordinal - (wd + 1) + 10) / 7;
	if (week < 1) {
		return (double)jyafn_iso_weeks_in_year(y - 1);
	}
	if (week > (int64_t)jyafn_iso_weeks_in_year(y)) {
		return 1.0;
	}
	return (double)week;
}

static void* jyafn_support(int which) {
	switch (which) {
	case 0: return (void*)jyafn_year;
	case 1: return (void*)jyafn_month;
	case 2: return (void*)jyafn_day;
	case 3: return (void*)jyafn_hour;
	case 4: return (void*)jyafn_minute;
	case 5: return (void*)jyafn_second;
	case 6: return (void*)jyafn_microsecond;
	case 7: return (void*)jyafn_weekday;
	case 8: return (void*)jyafn_week;
	case 9: return (void*)jyafn_dayofyear;
	}
	return 0;
}
*/
import "C"

import "unsafe"

var supportIndex = map[string]C.int{
	"year":        0,
	"month":       1,
	"day":         2,
	"hour":        3,
	"minute":      4,
	"second":      5,
	"microsecond": 6,
	"weekday":     7,
	"week":        8,
	"dayofyear":   9,
}

// Support returns the address of a named support routine, for embedding
// into generated code. The routines live in the host process for its whole
// lifetime, so the addresses stay valid for any function compiled by it.
func Support(name string) (uintptr, bool) {
	which, ok := supportIndex[name]
	if !ok {
		return 0, false
	}
	return uintptr(unsafe.Pointer(C.jyafn_support(which))), true
}

// SupportNames lists the available support routines.
func SupportNames() []string {
	names := make([]string, 0, len(supportIndex))
	for name := range supportIndex {
		names = append(names, name)
	}
	return names
}
